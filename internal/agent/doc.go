// Package agent defines the contract consumed from the external agent
// runtime: the typed event sequence a turn produces, the Handle used to
// drive and abort turns, and the Factory that creates handles per session.
//
// The runtime's reasoning is entirely opaque to this process. A handle
// accepts a user message, emits a finite stream of Events ending with a
// terminal complete variant, supports cooperative force-abort with a reason
// code, and resolves permission requests raised mid-turn.
//
// CLIFactory is the production implementation: it launches the configured
// agent CLI as a subprocess per turn and decodes its JSON-lines stdout into
// Events. Tests substitute scripted in-memory runtimes.
package agent
