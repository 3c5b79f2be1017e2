package working

import (
	"fmt"
	"regexp"
	"strings"
)

// ExtractedEntity is one entity mention found in turn text.
type ExtractedEntity struct {
	Kind EntityKind
	Name string
}

// Extraction holds everything pulled out of a single turn.
type Extraction struct {
	Entities []ExtractedEntity
	Files    []string
}

// Extractor derives entities and file mentions from turn text.
// A failing extractor never blocks turn persistence; the failure is logged
// and the turn is stored without entities.
type Extractor func(text string) (Extraction, error)

// maxEntitiesPerTurn bounds extraction output so a pathological turn
// cannot flood the entity index.
const maxEntitiesPerTurn = 32

var (
	// Paths with a known source/config extension, e.g. internal/store/db.go.
	filePattern = regexp.MustCompile(`\b[\w./-]*\w\.(?:go|py|js|jsx|ts|tsx|rs|java|kt|rb|c|h|cc|cpp|cs|md|yaml|yml|json|toml|sql|proto|sh|tf)\b`)

	// Call-shaped symbols, e.g. ApplyDecay() or store.Tx().
	callPattern = regexp.MustCompile(`\b([A-Za-z_][\w.]*)\(\)`)

	// Backtick-quoted identifiers, e.g. `RetentionCap`.
	backtickPattern = regexp.MustCompile("`([A-Za-z_][\\w./-]*)`")

	// Double-quoted multi-word phrases become concepts.
	conceptPattern = regexp.MustCompile(`"([^"\n]{3,80})"`)
)

// DefaultExtractor is the rule-based extractor used unless a custom one is
// injected. It is deterministic and language-agnostic: file paths by
// extension, symbols by call shape or backtick quoting, concepts from
// quoted multi-word phrases.
func DefaultExtractor(text string) (Extraction, error) {
	var ex Extraction
	seen := make(map[string]bool)

	add := func(kind EntityKind, name string) {
		name = strings.TrimSpace(name)
		if name == "" || len(ex.Entities) >= maxEntitiesPerTurn {
			return
		}
		key := string(kind) + "\x00" + name
		if seen[key] {
			return
		}
		seen[key] = true
		ex.Entities = append(ex.Entities, ExtractedEntity{Kind: kind, Name: name})
	}

	for _, m := range filePattern.FindAllString(text, -1) {
		add(EntityFile, m)
	}
	for _, m := range callPattern.FindAllStringSubmatch(text, -1) {
		add(EntitySymbol, m[1])
	}
	for _, m := range backtickPattern.FindAllStringSubmatch(text, -1) {
		// A backticked path is a file, not a symbol.
		if filePattern.MatchString(m[1]) {
			add(EntityFile, m[1])
		} else {
			add(EntitySymbol, m[1])
		}
	}
	for _, m := range conceptPattern.FindAllStringSubmatch(text, -1) {
		phrase := strings.TrimSpace(m[1])
		if strings.Contains(phrase, " ") {
			add(EntityConcept, phrase)
		}
	}

	for _, e := range ex.Entities {
		if e.Kind == EntityFile {
			ex.Files = append(ex.Files, e.Name)
		}
	}
	return ex, nil
}

// validateExtraction rejects extractor output that would corrupt the index.
func validateExtraction(ex Extraction) error {
	for _, e := range ex.Entities {
		if err := e.Kind.Validate(); err != nil {
			return err
		}
		if e.Name == "" {
			return fmt.Errorf("extracted entity has empty name")
		}
	}
	return nil
}
