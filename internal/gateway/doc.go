// Package gateway exposes the coordinator over HTTP. It is deliberately thin
// routing: every request maps onto one coordinator or broadcaster operation,
// and no conversation logic lives here.
//
// # Event stream
//
// GET /api/events holds a persistent text/event-stream response open and
// writes one outward event per data frame, UTF-8 JSON, standard SSE framing.
// The broadcaster's synthetic connected event is the first frame every
// viewer sees; there is no replay of earlier events.
//
// # Turn initiation
//
// POST /api/sessions/{id}/messages returns 202 as soon as the user message
// has been accepted and the turn queued. Turn progress, errors, and the
// terminal complete event are delivered only on the event stream.
package gateway
