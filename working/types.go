package working

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a turn authored by the human user.
	RoleUser Role = "user"

	// RoleAssistant is a turn authored by the assistant.
	RoleAssistant Role = "assistant"

	// RoleSystem is an injected system or tooling turn.
	RoleSystem Role = "system"
)

// String returns the string representation of the Role.
func (r Role) String() string {
	return string(r)
}

// IsValid returns true if the Role is one of the defined constants.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Validate returns an error if the Role is not valid.
func (r Role) Validate() error {
	if !r.IsValid() {
		return fmt.Errorf("invalid role: %q (must be one of: user, assistant, system)", r)
	}
	return nil
}

// EntityKind classifies an extracted entity.
type EntityKind string

const (
	// EntityFile is a file path mentioned in conversation.
	EntityFile EntityKind = "file"

	// EntitySymbol is a code symbol (function, type, method).
	EntitySymbol EntityKind = "symbol"

	// EntityConcept is a quoted or emphasized domain concept.
	EntityConcept EntityKind = "concept"
)

// String returns the string representation of the EntityKind.
func (k EntityKind) String() string {
	return string(k)
}

// IsValid returns true if the EntityKind is one of the defined constants.
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityFile, EntitySymbol, EntityConcept:
		return true
	default:
		return false
	}
}

// Validate returns an error if the EntityKind is not valid.
func (k EntityKind) Validate() error {
	if !k.IsValid() {
		return fmt.Errorf("invalid entity kind: %q (must be one of: file, symbol, concept)", k)
	}
	return nil
}

// Turn is a single utterance in a conversation.
type Turn struct {
	// Role is the turn's author.
	Role Role `json:"role"`

	// Content is the turn text.
	Content string `json:"content"`

	// At is the turn timestamp. Zero means "now" at append time.
	At time.Time `json:"at"`
}

// Entity is a file, symbol, or concept observed in conversation text.
// Entities live as long as a conversation references them and are pruned
// together with their last referencing conversation.
type Entity struct {
	ID          string     `json:"id"`
	Kind        EntityKind `json:"kind"`
	Name        string     `json:"name"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	Occurrences int        `json:"occurrences"`
}

// Conversation is a bounded, ordered log of turns for one session.
type Conversation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Intent    string    `json:"intent,omitempty"`
	Pinned    bool      `json:"pinned"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Turns     []Turn    `json:"turns,omitempty"`
	Entities  []Entity  `json:"entities,omitempty"`
	Files     []string  `json:"files,omitempty"`
}

// Active reports whether the conversation is protected from eviction:
// it is still receiving turns (not ended) or explicitly pinned.
func (c *Conversation) Active() bool {
	return c.EndedAt.IsZero() || c.Pinned
}

// CoModification is a set of files repeatedly changed together, with a
// frequency-derived confidence. It is recomputed from recent conversations
// and not retained beyond Tier A's retention window.
type CoModification struct {
	Files      []string  `json:"files"`
	Frequency  int       `json:"frequency"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Match is a ranked search hit over recent conversation text.
type Match struct {
	Conversation Conversation `json:"conversation"`
	Score        float64      `json:"score"`
	Excerpt      string       `json:"excerpt"`
}
