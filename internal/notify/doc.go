// Package notify delivers conversation events committed to the outbox.
//
// The Dispatcher drains pending outbox rows in order and hands each one to a
// Sink. Delivery is at-least-once: an event is marked delivered only after
// the sink accepts it, failures back off exponentially, and events that keep
// failing are parked for inspection.
//
// Sinks:
//
//   - LogSink writes each event through slog
//   - NATSSink publishes to a JetStream stream, using the event ID as the
//     message ID so the server drops redeliveries
//   - Broadcaster fans events out to in-process subscribers per conversation
//   - MultiSink delivers to several sinks in turn
package notify
