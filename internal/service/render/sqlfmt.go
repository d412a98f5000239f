package render

import "strings"

// keywords normalized to upper case when formatting generated SQL.
var sqlKeywords = map[string]string{
	"select": "SELECT", "from": "FROM", "where": "WHERE", "group": "GROUP",
	"order": "ORDER", "by": "BY", "having": "HAVING", "limit": "LIMIT",
	"offset": "OFFSET", "join": "JOIN", "inner": "INNER", "left": "LEFT",
	"right": "RIGHT", "full": "FULL", "outer": "OUTER", "cross": "CROSS",
	"on": "ON", "as": "AS", "and": "AND", "or": "OR", "not": "NOT",
	"in": "IN", "is": "IS", "null": "NULL", "like": "LIKE", "between": "BETWEEN",
	"union": "UNION", "all": "ALL", "distinct": "DISTINCT", "case": "CASE",
	"when": "WHEN", "then": "THEN", "else": "ELSE", "end": "END",
	"with": "WITH", "asc": "ASC", "desc": "DESC", "count": "COUNT",
	"sum": "SUM", "avg": "AVG", "min": "MIN", "max": "MAX",
}

// clauses that start a new line when reindenting.
var sqlClauses = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true,
	"ORDER": true, "HAVING": true, "LIMIT": true, "OFFSET": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true,
	"FULL": true, "CROSS": true, "UNION": true, "WITH": true,
}

// FormatSQL normalizes keyword case and puts each major clause on its own
// line, close to what sqlparse's reindent mode produces. Quoted literals and
// identifiers pass through untouched.
func FormatSQL(query string) string {
	tokens := tokenizeSQL(query)
	if len(tokens) == 0 {
		return query
	}

	var b strings.Builder
	for i, tok := range tokens {
		word := tok
		if upper, ok := sqlKeywords[strings.ToLower(tok)]; ok && !isQuoted(tok) {
			word = upper
		}
		if i > 0 {
			if sqlClauses[word] {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(word)
	}
	return b.String()
}

func isQuoted(tok string) bool {
	return len(tok) > 0 && (tok[0] == '\'' || tok[0] == '"' || tok[0] == '`')
}

// tokenizeSQL splits on whitespace while keeping quoted runs intact.
func tokenizeSQL(query string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quote  byte
	)

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case quote != 0:
			cur.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			cur.WriteByte(ch)
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return tokens
}
