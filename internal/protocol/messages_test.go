package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageReflection(t *testing.T) {
	raw := []byte(`{"type":"reflection_message","content":"I skipped the gym again","ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	turn, ok := msg.(ReflectionMessage)
	if !ok {
		t.Fatalf("message type = %T, want ReflectionMessage", msg)
	}
	if turn.Content != "I skipped the gym again" || turn.TSMs != 123 {
		t.Fatalf("unexpected reflection message: %+v", turn)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","action":" END ","reason":"user_done"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionEnd {
		t.Fatalf("Action = %q, want %q", control.Action, ActionEnd)
	}
	if control.Reason != "user_done" {
		t.Fatalf("Reason = %q, want %q", control.Reason, "user_done")
	}
}

func TestParseClientMessageRejectsInvalidPayloads(t *testing.T) {
	cases := []string{
		`{"type":"reflection_message","content":"   "}`,
		`{"type":"client_control","action":"pause"}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected error", raw)
		}
	}
}

func TestTypeOf(t *testing.T) {
	got, ok := TypeOf(ErrorEvent{Type: TypeErrorEvent})
	if !ok || got != TypeErrorEvent {
		t.Fatalf("TypeOf() = %q, %v", got, ok)
	}
	if _, ok := TypeOf("plain string"); ok {
		t.Fatalf("TypeOf(string) should not match")
	}
}

func BenchmarkParseClientMessageReflection(b *testing.B) {
	raw := []byte(`{"type":"reflection_message","content":"I noticed I reach for my phone whenever I'm bored","ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ReflectionMessage); !ok {
			b.Fatalf("message type = %T, want ReflectionMessage", msg)
		}
	}
}
