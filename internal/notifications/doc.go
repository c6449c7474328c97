// Package notifications pushes quality-gate events to ntfy.
//
// The ntfy implementation posts plain-text messages with Title, Tags, and
// Priority headers to the configured topic URL. Each event family (verdicts,
// batch summaries, errors) can be switched off in the notifications section;
// with no topic configured NewService returns a no-op. Callers depend only on
// the Service interface.
package notifications
