package brain

import (
	"time"

	"github.com/zero-day-ai/brain/health"
	"github.com/zero-day-ai/brain/intel"
	"github.com/zero-day-ai/brain/knowledge"
	"github.com/zero-day-ai/brain/working"
)

// Request describes one context query against the facade.
type Request struct {
	// Query is the free-text search applied to conversations and patterns.
	Query string `json:"query"`

	// SessionID optionally scopes recent conversations.
	SessionID string `json:"session_id,omitempty"`

	// Limit bounds results per tier. Zero means a small default.
	Limit int `json:"limit,omitempty"`

	// MinConfidence filters knowledge-graph hits.
	MinConfidence float64 `json:"min_confidence,omitempty"`
}

// ContextBundle is the merged answer from the three tiers. A tier that
// exceeded its read budget is listed in Skipped and its section is empty;
// the bundle is still usable.
type ContextBundle struct {
	Conversations []working.Match          `json:"conversations,omitempty"`
	Recent        []working.Conversation   `json:"recent,omitempty"`
	Patterns      []knowledge.SearchResult `json:"patterns,omitempty"`
	Insights      []intel.Insight          `json:"insights,omitempty"`

	// Partial is true when at least one tier was skipped.
	Partial bool `json:"partial,omitempty"`

	// Skipped names the tiers that missed their budget or failed.
	Skipped []string `json:"skipped,omitempty"`
}

// Interaction is the single write entry point: a batch of turns for one
// session, appended to an existing conversation or starting a new one.
type Interaction struct {
	// SessionID identifies the caller's session. Required when
	// ConversationID is empty.
	SessionID string `json:"session_id,omitempty"`

	// ConversationID continues an existing conversation when set.
	ConversationID string `json:"conversation_id,omitempty"`

	// Intent optionally labels what the conversation is about.
	Intent string `json:"intent,omitempty"`

	// Turns are appended in order.
	Turns []working.Turn `json:"turns"`

	// End closes the conversation after the turns are appended.
	End bool `json:"end,omitempty"`
}

// TaskReport is one maintenance task's outcome.
type TaskReport struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// MaintenanceReport summarizes one full maintenance pass.
type MaintenanceReport struct {
	Tasks []TaskReport          `json:"tasks"`
	Decay knowledge.DecayReport `json:"decay"`

	// StaleEnded is how many idle conversations were closed.
	StaleEnded int `json:"stale_ended"`

	// Insights is how many insights the generation pass produced.
	Insights int `json:"insights"`
}

// Failed reports whether any task in the pass errored.
func (r MaintenanceReport) Failed() bool {
	for _, t := range r.Tasks {
		if t.Error != "" {
			return true
		}
	}
	return false
}

// HealthReport is the per-tier health snapshot plus the combined status.
type HealthReport struct {
	Overall health.Status            `json:"overall"`
	Tiers   map[string]health.Status `json:"tiers"`
}

// Stats is a coarse census of the stored data.
type Stats struct {
	Conversations int `json:"conversations"`
	Patterns      int `json:"patterns"`
	Insights      int `json:"insights"`
}
