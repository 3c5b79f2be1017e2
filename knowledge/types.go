package knowledge

import (
	"fmt"
	"time"
)

// PatternKind classifies a pattern node.
type PatternKind string

const (
	// KindWorkflow is a repeatable multi-step process.
	KindWorkflow PatternKind = "workflow"

	// KindPrinciple is a guiding rule that holds across contexts.
	KindPrinciple PatternKind = "principle"

	// KindAntiPattern is an approach known to cause problems.
	KindAntiPattern PatternKind = "anti_pattern"

	// KindSolution is a concrete fix for a recurring problem.
	KindSolution PatternKind = "solution"

	// KindContext is background knowledge about the codebase or domain.
	KindContext PatternKind = "context"
)

// String returns the string representation of the PatternKind.
func (k PatternKind) String() string {
	return string(k)
}

// IsValid returns true if the PatternKind is one of the defined constants.
func (k PatternKind) IsValid() bool {
	switch k {
	case KindWorkflow, KindPrinciple, KindAntiPattern, KindSolution, KindContext:
		return true
	default:
		return false
	}
}

// Validate returns an error if the PatternKind is not valid.
func (k PatternKind) Validate() error {
	if !k.IsValid() {
		return fmt.Errorf("invalid pattern kind: %q (must be one of: workflow, principle, anti_pattern, solution, context)", k)
	}
	return nil
}

// ParsePatternKind converts a string to a PatternKind.
func ParsePatternKind(s string) (PatternKind, error) {
	k := PatternKind(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// RelationKind classifies an edge between two patterns.
type RelationKind string

const (
	// RelatedTo is an undirected topical association.
	RelatedTo RelationKind = "related_to"

	// Replaces marks the from-pattern as superseding the to-pattern.
	Replaces RelationKind = "replaces"

	// Extends marks the from-pattern as building on the to-pattern.
	Extends RelationKind = "extends"

	// ConflictsWith marks two patterns as mutually incompatible.
	ConflictsWith RelationKind = "conflicts_with"
)

// String returns the string representation of the RelationKind.
func (k RelationKind) String() string {
	return string(k)
}

// IsValid returns true if the RelationKind is one of the defined constants.
func (k RelationKind) IsValid() bool {
	switch k {
	case RelatedTo, Replaces, Extends, ConflictsWith:
		return true
	default:
		return false
	}
}

// Validate returns an error if the RelationKind is not valid.
func (k RelationKind) Validate() error {
	if !k.IsValid() {
		return fmt.Errorf("invalid relation kind: %q (must be one of: related_to, replaces, extends, conflicts_with)", k)
	}
	return nil
}

// ParseRelationKind converts a string to a RelationKind.
func ParseRelationKind(s string) (RelationKind, error) {
	k := RelationKind(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Pattern is a node in the knowledge graph: a reusable unit of knowledge
// with a confidence that only decay and explicit reinforcement may change.
type Pattern struct {
	ID    string      `json:"id"`
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Kind  PatternKind `json:"kind"`

	// Confidence is in [0,1]. Zero means "unset" and AddPattern stores it
	// as 0.5; a pattern cannot be created at exactly zero confidence, and
	// anything reaching zero through decay is deleted anyway. Use a small
	// positive value for a deliberately weak pattern.
	Confidence float64 `json:"confidence"`

	Pinned       bool      `json:"pinned"`
	Immutable    bool      `json:"immutable,omitempty"`
	Source       string    `json:"source,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Meta         *Meta     `json:"meta,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}

// Relationship is a typed, weighted edge between two patterns.
// Uniqueness holds on (From, To, Kind); both endpoints must exist.
type Relationship struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	Kind      RelationKind `json:"kind"`
	Strength  float64      `json:"strength"`
	CreatedAt time.Time    `json:"created_at"`
}

// Related is a traversal hit: a pattern plus its graph distance from the
// origin and the strength of the edge it was reached through.
type Related struct {
	Pattern  Pattern `json:"pattern"`
	Distance int     `json:"distance"`
	Strength float64 `json:"strength"`
}

// SearchResult is a ranked search hit.
type SearchResult struct {
	Pattern Pattern `json:"pattern"`
	Score   float64 `json:"score"`
}

// PatternUpdate names the fields UpdatePattern may change. Nil fields are
// left untouched. Confidence is deliberately absent: it moves only through
// decay and Reinforce.
type PatternUpdate struct {
	Title  *string
	Body   *string
	Kind   *PatternKind
	Source *string
	Tags   *[]string
	Meta   *Meta
}

// DecayReport summarizes one decay pass.
type DecayReport struct {
	// Decayed is the number of patterns whose confidence was reduced.
	Decayed int `json:"decayed"`

	// Deleted is the number of patterns removed at the deletion floor
	// or the age limit.
	Deleted int `json:"deleted"`
}

// Snapshot is a full export of the graph, suitable for Import.
type Snapshot struct {
	Patterns      []Pattern      `json:"patterns"`
	Relationships []Relationship `json:"relationships"`
	ExportedAt    time.Time      `json:"exported_at"`
}

// TagCount is one entry of the tag index.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
