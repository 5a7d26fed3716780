package llm

import (
	"fmt"
	"strings"

	"github.com/go-json-experiment/json"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

// ExtractJSON pulls the first JSON object out of a model response. Fenced
// ```json blocks win, then generic fences holding an object, then the first
// balanced object in the raw text.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)

	if body, ok := fenced(response, "```json"); ok {
		return body, nil
	}
	if body, ok := fenced(response, "```"); ok && strings.HasPrefix(body, "{") {
		return body, nil
	}
	if start := strings.Index(response, "{"); start != -1 {
		if obj := extractJSONObject(response, start); obj != "" {
			return obj, nil
		}
	}
	return "", fmt.Errorf("%w: no JSON object found", domain.ErrInvalidLLMResponse)
}

// ExtractSQL pulls a single SQL statement out of a model response. Accepted
// shapes: {"sql": "..."} JSON, ```sql fences, generic fences, or raw text
// beginning with a SQL keyword.
func ExtractSQL(response string) (string, error) {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "```json") {
		if obj, err := ExtractJSON(response); err == nil {
			var parsed struct {
				SQL   string `json:"sql"`
				Query string `json:"query"`
			}
			if json.Unmarshal([]byte(obj), &parsed) == nil {
				if sql := cleanSQL(parsed.SQL); sql != "" {
					return sql, nil
				}
				if sql := cleanSQL(parsed.Query); looksLikeSQL(sql) {
					return sql, nil
				}
			}
		}
	}

	if body, ok := fenced(response, "```sql"); ok {
		if sql := cleanSQL(body); sql != "" {
			return sql, nil
		}
	}
	if body, ok := fenced(response, "```"); ok && looksLikeSQL(body) {
		return cleanSQL(body), nil
	}

	if looksLikeSQL(response) {
		return cleanSQL(response), nil
	}
	// Prose followed by a statement on its own line.
	lines := strings.Split(response, "\n")
	for i, line := range lines {
		if looksLikeSQL(line) {
			return cleanSQL(strings.Join(lines[i:], "\n")), nil
		}
	}
	return "", fmt.Errorf("%w: could not extract SQL from response", domain.ErrInvalidLLMResponse)
}

func fenced(response, open string) (string, bool) {
	start := strings.Index(response, open)
	if start == -1 {
		return "", false
	}
	start += len(open)
	if open != "```" && start < len(response) && !strings.ContainsRune(" \t\r\n", rune(response[start])) {
		return "", false
	}
	// Skip an info string on the opening fence line (```sqlite, ```postgresql).
	if open == "```" {
		if nl := strings.IndexByte(response[start:], '\n'); nl != -1 && !strings.ContainsAny(response[start:start+nl], " {}[]") {
			start += nl + 1
		}
	}
	end := strings.Index(response[start:], "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(response[start : start+end]), true
}

// extractJSONObject returns the balanced object starting at start, skipping
// braces inside strings.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

var sqlKeywords = []string{
	"SELECT", "WITH", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP",
	"PRAGMA", "EXPLAIN", "SHOW", "DESCRIBE", "VALUES", "REPLACE",
}

func looksLikeSQL(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, kw := range sqlKeywords {
		if strings.HasPrefix(upper, kw) {
			rest := upper[len(kw):]
			if rest == "" || rest[0] == ' ' || rest[0] == '\n' || rest[0] == '\t' || rest[0] == '(' {
				return true
			}
		}
	}
	return false
}

// cleanSQL trims whitespace and trailing semicolons.
func cleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}
