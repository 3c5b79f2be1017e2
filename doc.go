// Package brain is a tiered memory subsystem for development assistants.
//
// It layers three tiers over embedded SQLite stores:
//
//   - working: bounded FIFO conversation memory with entity extraction
//     and full-text search (Tier A)
//   - knowledge: a long-lived pattern graph with typed relationships,
//     confidence reinforcement, and time-based decay (Tier B)
//   - intel: git-derived repository intelligence, such as file hotspots,
//     velocity trends, and rule-driven insights (Tier C)
//
// The Brain facade fans queries out to all three tiers under per-tier
// time budgets and merges the results into a ContextBundle; a slow or
// failing tier is dropped from the bundle instead of blocking it. Writes
// go through RecordInteraction and the pattern methods, and background
// maintenance (decay, metric collection, insight generation, backups)
// runs on a shared scheduler.
//
// Basic usage:
//
//	b, err := brain.New(
//	    brain.WithDataDir("/var/lib/brain"),
//	    brain.WithRepoDir("/src/project"),
//	    brain.WithBackgroundMaintenance(),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
//
//	id, err := b.RecordInteraction(ctx, brain.Interaction{
//	    SessionID: "session-1",
//	    Turns: []working.Turn{
//	        {Role: working.RoleUser, Content: "why does auth.go churn so much?"},
//	    },
//	})
//
//	bundle, err := b.QueryContext(ctx, brain.Request{Query: "auth churn"})
//
// Each tier is also usable on its own through Working, Knowledge, and
// Intel for callers that need tier-specific operations.
package brain
