package knowledge

import (
	"fmt"
	"net/url"
)

// MetaKind selects which payload a Meta carries.
type MetaKind string

const (
	// MetaCommand attaches a runnable command to a pattern.
	MetaCommand MetaKind = "command"

	// MetaReference attaches an external link.
	MetaReference MetaKind = "reference"

	// MetaSnippet attaches a code snippet.
	MetaSnippet MetaKind = "snippet"
)

// String returns the string representation of the MetaKind.
func (k MetaKind) String() string {
	return string(k)
}

// IsValid returns true if the MetaKind is one of the defined constants.
func (k MetaKind) IsValid() bool {
	switch k {
	case MetaCommand, MetaReference, MetaSnippet:
		return true
	default:
		return false
	}
}

// Validate returns an error if the MetaKind is not valid.
func (k MetaKind) Validate() error {
	if !k.IsValid() {
		return fmt.Errorf("invalid meta kind: %q (must be one of: command, reference, snippet)", k)
	}
	return nil
}

// Meta is pattern extra metadata as a tagged variant: the Kind names the
// payload, and exactly the matching payload field must be set. Validation
// happens at write time so the stored JSON is always well-formed.
type Meta struct {
	Kind      MetaKind       `json:"kind"`
	Command   *CommandMeta   `json:"command,omitempty"`
	Reference *ReferenceMeta `json:"reference,omitempty"`
	Snippet   *SnippetMeta   `json:"snippet,omitempty"`
}

// CommandMeta is a runnable command associated with a pattern.
type CommandMeta struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

// ReferenceMeta is an external link associated with a pattern.
type ReferenceMeta struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// SnippetMeta is a code snippet associated with a pattern.
type SnippetMeta struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Validate checks that the Kind is known and that exactly the matching
// payload is present and well-formed.
func (m *Meta) Validate() error {
	if m == nil {
		return nil
	}
	if err := m.Kind.Validate(); err != nil {
		return err
	}

	set := 0
	if m.Command != nil {
		set++
	}
	if m.Reference != nil {
		set++
	}
	if m.Snippet != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("meta %q must carry exactly one payload, found %d", m.Kind, set)
	}

	switch m.Kind {
	case MetaCommand:
		if m.Command == nil {
			return fmt.Errorf("meta kind %q requires the command payload", m.Kind)
		}
		if m.Command.Program == "" {
			return fmt.Errorf("command meta requires a program")
		}
	case MetaReference:
		if m.Reference == nil {
			return fmt.Errorf("meta kind %q requires the reference payload", m.Kind)
		}
		u, err := url.Parse(m.Reference.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("reference meta requires an absolute url, got %q", m.Reference.URL)
		}
	case MetaSnippet:
		if m.Snippet == nil {
			return fmt.Errorf("meta kind %q requires the snippet payload", m.Kind)
		}
		if m.Snippet.Code == "" {
			return fmt.Errorf("snippet meta requires code")
		}
	}
	return nil
}
