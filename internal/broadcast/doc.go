// Package broadcast provides the in-memory pub/sub fan-out between the
// session coordinator and connected viewers.
//
// One Broadcaster instance exists per process. The coordinator publishes
// outward conversation events as they are produced; each live subscriber
// receives every event published after its subscription opened, in publish
// order, prefixed by a synthetic connected event. Publishing is
// fire-and-forget: a slow or disconnected subscriber is dropped, never
// awaited, so the state machine that produced an event can never be blocked
// by a viewer.
package broadcast
