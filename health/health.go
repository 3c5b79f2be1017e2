package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/zero-day-ai/brain/memerr"
	"github.com/zero-day-ai/brain/record"
)

// Health states, ordered from best to worst.
const (
	// StateHealthy indicates the component is fully operational.
	StateHealthy = "healthy"

	// StateDegraded indicates the component works with reduced capability,
	// for example a tier recovered from an empty store after corruption.
	StateDegraded = "degraded"

	// StateUnhealthy indicates the component is not operational.
	StateUnhealthy = "unhealthy"
)

// Status is the health of one component at a point in time.
type Status struct {
	// State is one of StateHealthy, StateDegraded, StateUnhealthy.
	State string `json:"state"`

	// Message is a human-readable summary.
	Message string `json:"message,omitempty"`

	// Details holds check-specific context.
	Details map[string]any `json:"details,omitempty"`

	// CheckedAt is when the check ran.
	CheckedAt time.Time `json:"checked_at"`
}

// IsHealthy returns true if the status is StateHealthy.
func (s Status) IsHealthy() bool {
	return s.State == StateHealthy
}

// IsDegraded returns true if the status is StateDegraded.
func (s Status) IsDegraded() bool {
	return s.State == StateDegraded
}

// IsUnhealthy returns true if the status is StateUnhealthy.
func (s Status) IsUnhealthy() bool {
	return s.State == StateUnhealthy
}

// Healthy creates a healthy status with an optional message.
func Healthy(message string) Status {
	return Status{State: StateHealthy, Message: message, CheckedAt: time.Now().UTC()}
}

// Degraded creates a degraded status with a message and optional details.
func Degraded(message string, details map[string]any) Status {
	return Status{State: StateDegraded, Message: message, Details: details, CheckedAt: time.Now().UTC()}
}

// Unhealthy creates an unhealthy status with a message and optional details.
func Unhealthy(message string, details map[string]any) Status {
	return Status{State: StateUnhealthy, Message: message, Details: details, CheckedAt: time.Now().UTC()}
}

// StoreCheck verifies a tier's backing store: the file must exist and pass
// an integrity check. A store that fails integrity is degraded, not
// unhealthy, because the tier recovers locally on its next open.
func StoreCheck(ctx context.Context, name string, store *record.Store) Status {
	if store == nil {
		return Unhealthy(fmt.Sprintf("%s store is not open", name), nil)
	}

	if err := store.Verify(ctx); err != nil {
		details := map[string]any{
			"tier":  name,
			"path":  store.Path(),
			"error": err.Error(),
		}
		if memerr.IsKind(err, memerr.KindCorruption) {
			return Degraded(fmt.Sprintf("%s store failed integrity check, recovery pending", name), details)
		}
		return Unhealthy(fmt.Sprintf("%s store is unreadable", name), details)
	}

	return Healthy(fmt.Sprintf("%s store verified at %s", name, store.Path()))
}

// FileCheck verifies that a file or directory exists at path.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(fmt.Sprintf("path %q does not exist", path),
				map[string]any{"path": path})
		}
		return Unhealthy(fmt.Sprintf("failed to stat %q", path),
			map[string]any{"path": path, "error": err.Error()})
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return Healthy(fmt.Sprintf("%s %q exists", kind, path))
}

// BinaryCheck verifies that a binary exists in PATH. The intel tier needs
// git; everything else is self-contained.
func BinaryCheck(name string) Status {
	if name == "" {
		return Unhealthy("binary name cannot be empty", nil)
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return Degraded(fmt.Sprintf("binary %q not found in PATH", name),
			map[string]any{"binary": name, "error": err.Error()})
	}
	return Healthy(fmt.Sprintf("binary %q found at %s", name, path))
}

// Combine aggregates checks into a single status. Any unhealthy check makes
// the result unhealthy; otherwise any degraded check makes it degraded.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	healthyCount := 0
	for _, check := range checks {
		switch check.State {
		case StateUnhealthy:
			unhealthy = append(unhealthy, orUnnamed(check.Message))
		case StateDegraded:
			degraded = append(degraded, orUnnamed(check.Message))
		case StateHealthy:
			healthyCount++
		}
	}

	switch {
	case len(unhealthy) > 0:
		return Unhealthy(fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthy),
				"degraded":      len(degraded),
				"healthy":       healthyCount,
				"failed_checks": unhealthy,
			})
	case len(degraded) > 0:
		return Degraded(fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degraded),
				"healthy":         healthyCount,
				"degraded_checks": degraded,
			})
	default:
		return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
	}
}

func orUnnamed(msg string) string {
	if msg == "" {
		return "unnamed check"
	}
	return msg
}
