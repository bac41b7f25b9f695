// Package client is a Go client for the glasshouse HTTP API.
//
// It covers the full viewer surface: session CRUD, turn initiation, cancel,
// permission responses, and the SSE event stream. Viewer programs (TUIs,
// notification bridges, test harnesses) use it instead of hand-rolling HTTP.
//
// Sends are acknowledged before the turn runs; callers that want the result
// consume StreamEvents, optionally through WaitForComplete:
//
//	events, _ := cli.StreamEvents(ctx)
//	ack, _ := cli.SendMessage(ctx, sessID, client.SendMessageRequest{Text: "hi"})
//	turn, _ := client.WaitForComplete(ctx, events, sessID)
package client
