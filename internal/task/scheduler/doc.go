// Package scheduler turns the rule set into a single armed wake-up.
//
// The scheduler is responsible only for:
//   - computing the earliest next occurrence across all scheduled rules
//   - clearing and re-arming one named one-shot timer
//
// Which rules run when the timer fires is decided by the engine.
package scheduler
