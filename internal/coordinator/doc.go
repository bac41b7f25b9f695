// Package coordinator owns all in-memory conversation state. It reconstructs
// each session's structured conversation — including the nested tool-call
// tree — from the flat, interleaved event stream an agent runtime emits, and
// publishes the resulting outward events to the broadcaster.
//
// # Single-flight turns
//
// At most one turn is active per session at any instant. A new SendMessage
// while a turn is in flight force-aborts the old turn with reason redirect
// before proceeding; aborting, never queuing, is what maintains the
// guarantee. A generation counter per session fences superseded turns so a
// stale turn goroutine can neither mutate state nor emit events after its
// abort.
//
// # Turn termination
//
// Every turn that starts ends with exactly one complete event: on the
// agent's own terminal complete, on an error while driving the sequence
// (error then complete), or on explicit cancellation. Events the sequence
// yields after its terminal complete are discarded.
//
// # Tool-call tree
//
// Container tools (task/subagent launchers) push their invocation id onto a
// per-turn parent stack. Nested tool starts without an explicit parent
// inherit the stack top; results remove their id from the stack by value,
// since runtimes do not reliably close tools in LIFO order.
//
// Turns for different sessions are independent and may run concurrently;
// publishing an outward event never blocks the state transition that
// produced it.
package coordinator
