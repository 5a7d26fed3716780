package sqlconn

import (
	"strings"
	"unicode"
)

var readKeywords = map[string]bool{
	"SELECT":   true,
	"PRAGMA":   true,
	"EXPLAIN":  true,
	"WITH":     true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"VALUES":   true,
}

// explainOptions are the words that may sit between EXPLAIN and the
// explained statement across the supported dialects.
var explainOptions = map[string]bool{
	"ANALYZE":  true,
	"ANALYSE":  true,
	"VERBOSE":  true,
	"QUERY":    true,
	"PLAN":     true,
	"AST":      true,
	"SYNTAX":   true,
	"PIPELINE": true,
	"ESTIMATE": true,
	"LOGICAL":  true,
	"PHYSICAL": true,
}

// IsReadQuery reports whether query returns rows without modifying data,
// judged by its first keyword after comments and whitespace. Multiple
// statements never count as a read.
func IsReadQuery(query string) bool {
	if multipleStatements(query) {
		return false
	}
	kw := firstKeyword(query)
	if !readKeywords[kw] {
		return false
	}
	switch kw {
	case "WITH":
		// A CTE can wrap a write: WITH x AS (...) DELETE FROM ...
		body := cteBodyKeyword(query)
		return body == "SELECT" || body == "VALUES"
	case "EXPLAIN":
		// EXPLAIN ANALYZE executes the statement it explains.
		return IsReadQuery(explainedStatement(query))
	}
	return true
}

// explainedStatement strips EXPLAIN and its options from query.
func explainedStatement(query string) string {
	s := stripLeadingComments(query)
	s = s[len("EXPLAIN"):]
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if strings.HasPrefix(s, "(") {
			// Postgres style option list: EXPLAIN (ANALYZE, FORMAT JSON) ...
			kw := firstKeyword(s[1:])
			if readKeywords[kw] && !explainOptions[kw] {
				return s
			}
			end := strings.IndexByte(s, ')')
			if end == -1 {
				return ""
			}
			s = s[end+1:]
			continue
		}
		kw := firstKeyword(s)
		if !explainOptions[kw] {
			return s
		}
		s = stripLeadingComments(s)[len(kw):]
	}
}

// multipleStatements reports whether a semicolon outside literals and
// comments is followed by anything but whitespace or more semicolons.
func multipleStatements(query string) bool {
	var quote byte
	ended := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			if ended {
				return true
			}
			quote = c
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			nl := strings.IndexByte(query[i:], '\n')
			if nl == -1 {
				return false
			}
			i += nl
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end == -1 {
				return false
			}
			i += end + 3
		case c == ';':
			ended = true
		case ended && !unicode.IsSpace(rune(c)):
			return true
		}
	}
	return false
}

// cteBodyKeyword returns the first statement keyword outside parentheses
// and string literals following a WITH clause.
func cteBodyKeyword(query string) string {
	depth := 0
	var quote rune
	var word strings.Builder
	flush := func() string {
		w := strings.ToUpper(word.String())
		word.Reset()
		switch w {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE", "VALUES":
			return w
		}
		return ""
	}
	for _, r := range stripLeadingComments(query) {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"':
			quote = r
		case r == '(':
			depth++
			word.Reset()
		case r == ')':
			depth--
			word.Reset()
		case depth == 0 && (unicode.IsLetter(r) || r == '_'):
			word.WriteRune(r)
			continue
		}
		if depth == 0 {
			if w := flush(); w != "" {
				return w
			}
		}
	}
	return flush()
}

func firstKeyword(query string) string {
	s := stripLeadingComments(query)
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end == -1 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		s = strings.TrimLeft(s, "(")
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl == -1 {
				return ""
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end == -1 {
				return ""
			}
			s = s[end+2:]
		default:
			return s
		}
	}
}

// trimStatement drops surrounding whitespace and trailing semicolons.
func trimStatement(query string) string {
	query = strings.TrimSpace(query)
	for strings.HasSuffix(query, ";") {
		query = strings.TrimSpace(strings.TrimSuffix(query, ";"))
	}
	return query
}
