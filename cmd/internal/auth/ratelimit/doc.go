// Package ratelimit implements fixed-window request counters keyed by
// (identity, action).
//
// Each action category carries its own budget (for example a tight one for
// "authentication" and a looser one for general traffic). Windows are aligned
// to the epoch: windowStart = floor(now / window) * window. A bucket is reset
// lazily the first time it is touched in a new window, and stale buckets are
// pruned by Prune.
//
// Fixed windows allow a burst of up to 2x the budget across a window boundary.
// That is accepted: the store exists for abuse mitigation, not fair queuing.
package ratelimit
