// Package notifier delivers messages to users.
//
// # Direct delivery
//
// Deliver is used for timer expiry notices. It makes exactly one attempt per
// channel and never queues or retries: the user's preferred chat when set,
// otherwise a reply to the message that started the timer (falling back once
// to a direct message), otherwise a direct message.
//
// # Fan-out
//
// Fanout sends a batch of messages (daily digests, startup notices) through
// a small worker pool paced by a token bucket. Each item is still a single
// attempt.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recent delivery outcomes.
package notifier
