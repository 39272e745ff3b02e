package policy

import (
	"regexp"
	"sort"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// Redaction is the outcome of masking one text.
type Redaction struct {
	Text  string
	Kinds []string
}

func (r Redaction) Changed() bool { return len(r.Kinds) > 0 }

// Redact masks emails, card numbers and phone numbers and reports which kinds were found.
// Cards run before phones so long digit runs are not classified as phone numbers.
func Redact(input string) Redaction {
	out := Redaction{Text: input}
	for _, rule := range []struct {
		kind    string
		pattern *regexp.Regexp
		mask    string
	}{
		{"email", emailPattern, "[REDACTED_EMAIL]"},
		{"card", cardPattern, "[REDACTED_CARD]"},
		{"phone", phonePattern, "[REDACTED_PHONE]"},
	} {
		next := rule.pattern.ReplaceAllString(out.Text, rule.mask)
		if next != out.Text {
			out.Kinds = append(out.Kinds, rule.kind)
			out.Text = next
		}
	}
	sort.Strings(out.Kinds)
	return out
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	r := Redact(input)
	return r.Text, r.Changed()
}
