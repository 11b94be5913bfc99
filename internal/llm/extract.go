package llm

import "strings"

// ExtractJSON finds the first top-level JSON object or array in s, skipping
// markdown code fences and prose around it. Braces inside string literals are
// ignored. When nothing balanced is found, s is returned trimmed.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	start := -1
	depth := 0
	inString := false
	escaped := false
	var open, close byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if start == -1 {
			if ch == '{' || ch == '[' {
				start = i
				open = ch
				close = '}'
				if ch == '[' {
					close = ']'
				}
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s
}
