package knowledge

import (
	"context"
	"sort"
	"strings"

	"github.com/zero-day-ai/brain/memerr"
	"github.com/zero-day-ai/brain/record"
)

// tagBoost is added to a hit's score for each distinct query term that
// exactly matches one of the pattern's tags.
const tagBoost = 0.5

// bm25 column weights: title counts double, tags triple, body baseline.
const searchRankExpr = "bm25(patterns_fts, 2.0, 1.0, 3.0)"

// SearchPatterns ranks patterns against query over title, body, and tags.
// The query supports phrases ("..."), prefixes (term*), and uppercase
// AND/OR/NOT. Scores are positive (negated bm25 plus tag boost); ties sort
// by confidence descending, then last_accessed descending, then id
// ascending, so equal-relevance ordering is deterministic. Searching does
// not count as pattern use.
func (g *Graph) SearchPatterns(ctx context.Context, query string, minConfidence float64, limit int) ([]SearchResult, error) {
	const op = "knowledge.SearchPatterns"

	match := record.BuildMatch(query)
	if match == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = 10
	}

	rows, err := g.store.DB().QueryContext(ctx, `
		SELECT p.id, `+searchRankExpr+`
		FROM patterns_fts
		JOIN patterns p ON p.rid = patterns_fts.rowid
		WHERE patterns_fts MATCH ? AND p.confidence >= ?
		ORDER BY `+searchRankExpr, match, minConfidence)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}

	type hit struct {
		id   string
		rank float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.rank); err != nil {
			rows.Close()
			return nil, memerr.NewInternalError(op, err)
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}

	terms := queryTerms(query)
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		p, err := loadPattern(ctx, g.store.DB(), op, h.id)
		if err != nil {
			return nil, err
		}
		score := -h.rank
		for _, tag := range p.Tags {
			if terms[tag] {
				score += tagBoost
			}
		}
		results = append(results, SearchResult{Pattern: *p, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Pattern.Confidence != b.Pattern.Confidence {
			return a.Pattern.Confidence > b.Pattern.Confidence
		}
		if !a.Pattern.LastAccessed.Equal(b.Pattern.LastAccessed) {
			return a.Pattern.LastAccessed.After(b.Pattern.LastAccessed)
		}
		return a.Pattern.ID < b.Pattern.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// queryTerms extracts the lowercase bare terms of a query for tag matching.
// Operators, quotes, and prefix stars are stripped; a prefix term matches a
// tag only on its full stem.
func queryTerms(query string) map[string]bool {
	terms := make(map[string]bool)
	for _, tok := range strings.Fields(query) {
		if tok == "AND" || tok == "OR" || tok == "NOT" {
			continue
		}
		tok = strings.Trim(tok, `"*`)
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			terms[tok] = true
		}
	}
	return terms
}
