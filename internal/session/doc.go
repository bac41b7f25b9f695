// Package session defines the shared conversation data model: durable
// Session records, Message units (including the nested tool-call tree
// established by parent tool-use ids), and the outward Event variants
// broadcast to viewers.
//
// # Messages and the tool tree
//
// A conversation is an ordered, append-only sequence of Messages. The only
// permitted in-place mutation is a tool message's transition from pending to
// completed when its result arrives. Tool messages reference their enclosing
// container tool (a task/subagent launcher) via ParentToolUseID, which viewers
// use to render nested tool calls as a tree.
//
// # Outward events
//
// Event is the single contract viewers depend on: a flat JSON object with a
// "type" discriminant and a "session_id". The variant set is closed here but
// viewers are expected to ignore unknown types, keeping the wire boundary
// open for extension.
package session
