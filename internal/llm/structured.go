package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedOutput = errors.New("model output is not valid json")

// ExtractObject returns the text between the first '{' and the last '}'.
func ExtractObject(text string) (string, bool) {
	return between(text, '{', '}')
}

// ExtractArray returns the text between the first '[' and the last ']'.
func ExtractArray(text string) (string, bool) {
	return between(text, '[', ']')
}

func between(text string, open, close byte) (string, bool) {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// fragments lists the JSON candidates in a reply, best first. A reply asked for an
// array but holding a single object also yields that object as a one-element array.
func fragments(text string, f Format) []string {
	if f != FormatJSONArray {
		if obj, ok := ExtractObject(text); ok {
			return []string{obj}
		}
		return nil
	}
	var out []string
	if arr, ok := ExtractArray(text); ok {
		out = append(out, arr)
	}
	if obj, ok := ExtractObject(text); ok {
		out = append(out, "["+obj+"]")
	}
	return out
}

// Decode invokes the model and passes the JSON fragment of the reply to parse. If the
// reply cannot be parsed the model is asked again, at most retries more times, with the
// failure appended to the prompt. It returns the last raw reply along with any error.
func Decode(ctx context.Context, inv Invoker, req Request, retries int, parse func(fragment string) error) (string, error) {
	if retries < 0 {
		retries = 0
	}
	shape := "JSON object"
	if req.Format == FormatJSONArray {
		shape = "JSON array"
	}

	base := req.Prompt
	prompt := base
	var (
		raw     string
		lastErr error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return raw, err
		}
		req.Prompt = prompt
		raw = inv.Invoke(ctx, req)

		candidates := fragments(raw, req.Format)
		if len(candidates) == 0 {
			lastErr = fmt.Errorf("%w: no %s found", ErrMalformedOutput, shape)
		}
		for _, fragment := range candidates {
			err := parse(fragment)
			if err == nil {
				return raw, nil
			}
			lastErr = fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}

		prompt = base + fmt.Sprintf(
			"\n\nYour previous reply could not be used (%v). Respond with only the %s described above and nothing else.",
			lastErr, shape,
		)
	}
	return raw, lastErr
}
