// Package notifier delivers rule notifications ("moved 2 tabs to the left").
//
// Notify never blocks the caller: messages are queued and a single worker
// hands them to a Sink under a rate limit. Identical title+message pairs are
// suppressed for DedupWindow so a catch-up pass after downtime does not spam
// the operator.
//
// # Sinks
//
// The "log" sink writes notifications to the structured log. The "telegram"
// sink posts them to a chat (optionally a forum thread) through telebot.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of delivered notifications.
package notifier
