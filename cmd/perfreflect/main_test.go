package main

import (
	"testing"
	"time"
)

func TestWSURLForUser(t *testing.T) {
	got, err := wsURLForUser("https://unhabit.example/base/", "u 1")
	if err != nil {
		t.Fatalf("wsURLForUser() error = %v", err)
	}
	want := "wss://unhabit.example/base/api/reflection/ws?user_id=u+1"
	if got != want {
		t.Fatalf("wsURLForUser() = %q, want %q", got, want)
	}

	if _, err := wsURLForUser("ftp://host", "u"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestPercentile(t *testing.T) {
	var samples []time.Duration
	for i := 1; i <= 100; i++ {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	if got := percentile(samples, 0.50); got != 51*time.Millisecond {
		t.Fatalf("p50 = %s, want 51ms", got)
	}
	if got := percentile(samples, 0.95); got != 95*time.Millisecond {
		t.Fatalf("p95 = %s, want 95ms", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("percentile(nil) = %s", got)
	}
}

func TestSplitTexts(t *testing.T) {
	got := splitTexts(" one | |two|")
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("splitTexts() = %q", got)
	}
}
