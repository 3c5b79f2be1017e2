package record

import "strings"

// BuildMatch converts a user-facing search query into an FTS5 MATCH
// expression. Supported forms:
//
//   - bare terms:        refactor workflow   (implicit AND)
//   - phrases:           "error handling"
//   - prefixes:          refactor*
//   - boolean operators: AND, OR, NOT (uppercase)
//
// Bare terms are quoted so punctuation in the query cannot change the
// expression's structure. An empty result means the query held nothing
// searchable and the caller should return no matches.
func BuildMatch(query string) string {
	var out []string
	for _, tok := range tokenize(query) {
		switch {
		case tok == "AND" || tok == "OR" || tok == "NOT":
			out = append(out, tok)
		case len(tok) >= 2 && strings.HasPrefix(tok, `"`) && strings.HasSuffix(tok, `"`):
			out = append(out, quoteTerm(tok[1:len(tok)-1]))
		case strings.HasSuffix(tok, "*") && len(tok) > 1:
			out = append(out, quoteTerm(strings.TrimSuffix(tok, "*"))+"*")
		default:
			if term := quoteTerm(tok); term != `""` {
				out = append(out, term)
			}
		}
	}

	// Operators with nothing to bind to make FTS5 error out.
	// NOT is binary in FTS5, so it cannot lead an expression either.
	for len(out) > 0 && isOperator(out[0]) {
		out = out[1:]
	}
	for len(out) > 0 && isOperator(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, " ")
}

func isOperator(tok string) bool {
	return tok == "AND" || tok == "OR" || tok == "NOT"
}

// quoteTerm wraps a term in FTS5 string quotes, doubling embedded quotes.
func quoteTerm(term string) string {
	term = strings.TrimSpace(term)
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

// tokenize splits a query on whitespace, keeping quoted phrases intact.
func tokenize(query string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range query {
		switch {
		case r == '"':
			cur.WriteRune(r)
			if inQuote {
				flush()
			}
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
