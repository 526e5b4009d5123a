// Package flagcore implements a server-side feature gating, dynamic config,
// and experimentation evaluation engine.
//
// It pulls a signed rule-set document from a remote origin (or a pluggable
// datastore), evaluates gates/configs/experiments/layers against that
// rule-set for a given user entirely in-process, and ships exposure events
// to a remote analytics endpoint in batches.
package flagcore
