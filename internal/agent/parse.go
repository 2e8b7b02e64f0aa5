package agent

import (
	"encoding/json"
	"errors"
	"strings"
)

// Model output parsing is layered: strict JSON first, then a bracket scan
// for an embedded array, then best-effort repair of common truncations.
// Each layer is a pure function; callers fall through on error and end at
// DefaultOption. Exceptions never drive control flow here.

// ErrNoJSON is returned when no JSON payload can be located in the text.
var ErrNoJSON = errors.New("no JSON payload found")

// ParseOptions runs the full extraction chain over raw model output.
// It returns nil when nothing usable could be recovered.
func ParseOptions(raw string) []Option {
	cleaned := stripFences(raw)

	if opts, err := ParseOptionsStrict(cleaned); err == nil {
		return opts
	}

	// ExtractJSONArray hands back an unterminated fragment alongside its
	// error; the repair layer still gets a shot at it.
	arr, err := ExtractJSONArray(cleaned)
	if err == nil {
		if opts, err := ParseOptionsStrict(arr); err == nil {
			return opts
		}
	}
	if arr != "" {
		if repaired, err := RepairJSONArray(arr); err == nil {
			if opts, err := ParseOptionsStrict(repaired); err == nil {
				return opts
			}
		}
	}

	return nil
}

// ParseOptionsStrict decodes text that must already be valid JSON: either
// an array of options or an object wrapping one under "options".
func ParseOptionsStrict(text string) ([]Option, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoJSON
	}

	var opts []Option
	if err := json.Unmarshal([]byte(text), &opts); err == nil {
		return nonEmpty(opts)
	}

	var wrapper struct {
		Options []Option `json:"options"`
	}
	if err := json.Unmarshal([]byte(text), &wrapper); err == nil && len(wrapper.Options) > 0 {
		return nonEmpty(wrapper.Options)
	}

	var single Option
	if err := json.Unmarshal([]byte(text), &single); err == nil && single.Title != "" {
		return []Option{single}, nil
	}

	return nil, ErrNoJSON
}

// ExtractJSONArray scans for the first balanced top-level JSON array.
// Strings and escapes are honored so brackets inside text do not count.
func ExtractJSONArray(text string) (string, error) {
	start := strings.IndexByte(text, '[')
	if start < 0 {
		return "", ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], nil
				}
			}
		}
	}

	// Unterminated array: hand the fragment to the repair layer.
	return text[start:], ErrNoJSON
}

// RepairJSONArray attempts to complete a truncated JSON array: it drops a
// trailing partial element, removes trailing commas, and closes unbalanced
// brackets and braces.
func RepairJSONArray(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || text[0] != '[' {
		return "", ErrNoJSON
	}

	// Cut back to the last complete object boundary.
	if last := strings.LastIndexByte(text, '}'); last >= 0 {
		text = text[:last+1]
	}
	text = strings.TrimRight(text, ", \n\t")

	depth := 0
	inString := false
	escaped := false
	var closers []byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
				closers = append(closers, ']')
			}
		case '{':
			if !inString {
				depth++
				closers = append(closers, '}')
			}
		case ']', '}':
			if !inString && len(closers) > 0 {
				depth--
				closers = closers[:len(closers)-1]
			}
		}
	}
	if inString {
		text += `"`
	}
	for i := len(closers) - 1; i >= 0; i-- {
		text += string(closers[i])
	}

	if !json.Valid([]byte(text)) {
		return "", ErrNoJSON
	}
	return text, nil
}

// ParseSuggestion decodes a single refinement suggestion object, tolerating
// fences and surrounding prose.
func ParseSuggestion(raw string) (Suggestion, bool) {
	cleaned := stripFences(raw)

	var sug Suggestion
	if err := json.Unmarshal([]byte(cleaned), &sug); err == nil && sug.Text != "" {
		return sug, true
	}

	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &sug); err == nil && sug.Text != "" {
			return sug, true
		}
	}
	return Suggestion{}, false
}

// ExtractRequirements pulls up to max requirement phrases out of a task
// description using sentence and connective splitting.
func ExtractRequirements(description string, max int) []string {
	if max <= 0 {
		max = 8
	}

	fields := strings.FieldsFunc(description, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n' || r == '!'
	})

	var reqs []string
	for _, f := range fields {
		for _, part := range splitConnectives(f) {
			part = strings.TrimSpace(part)
			if countWords(part) < 2 {
				continue
			}
			reqs = append(reqs, part)
			if len(reqs) >= max {
				return reqs
			}
		}
	}
	return reqs
}

// splitConnectives breaks a clause on coordinating connectives so compound
// requirements ("add X and validate Y") yield separate phrases.
func splitConnectives(s string) []string {
	lower := " " + strings.ToLower(s) + " "
	for _, conn := range []string{" and then ", " as well as ", ", and "} {
		if idx := strings.Index(lower, conn); idx >= 0 {
			left := s[:idx]
			right := s[idx+len(conn)-1:]
			return append(splitConnectives(left), splitConnectives(right)...)
		}
	}
	return []string{s}
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func nonEmpty(opts []Option) ([]Option, error) {
	var out []Option
	for _, o := range opts {
		if o.Title != "" || o.Description != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoJSON
	}
	return out, nil
}
