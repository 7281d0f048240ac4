package generate

import "strings"

// ExtractSQL pulls the SQL statement out of a model completion: fenced code
// blocks are unwrapped, a leading "SQL:" label is dropped, and surrounding
// prose outside the fence is discarded.
func ExtractSQL(completion string) string {
	text := strings.TrimSpace(completion)

	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		// optional language tag on the fence line
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			firstLine := strings.TrimSpace(rest[:nl])
			if firstLine == "sql" || firstLine == "SQL" || firstLine == "" {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}

	for _, label := range []string{"SQL:", "sql:", "Query:", "Answer:"} {
		if strings.HasPrefix(text, label) {
			text = strings.TrimSpace(text[len(label):])
			break
		}
	}
	return strings.TrimSpace(text)
}
