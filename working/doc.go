// Package working implements Tier A of the brain: a bounded FIFO
// conversation log with entity and file extraction.
//
// Conversations are appended to until their session closes, then become
// candidates for eviction once the retention cap is exceeded. Conversations
// that are still receiving turns, or are explicitly pinned, are never
// evicted regardless of age. Turn text is indexed for ranked full-text
// search, and file mentions feed a co-modification frequency table.
package working
