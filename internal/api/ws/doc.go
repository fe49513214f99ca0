// Package ws provides the websocket endpoints of the preview server.
//
// Two handlers live here:
//
//   - EventsHandler streams a preview's host events. Recorded events after
//     ?after=N are replayed first, then new ones follow as they happen.
//     Each frame is one JSON record: {"seq", "time", "name", "event"}.
//   - SandboxHandler serves a sandbox over the control protocol. Every
//     connection gets its own window and runner; the connection is the
//     runner's parent. controller.RemoteLauncher dials this endpoint.
//
// Clients that fall too far behind an event stream are disconnected with a
// policy-violation close frame and can reconnect with ?after=<last seq>.
//
// Example Usage:
//
//	events := ws.NewEventsHandler(previews, metrics, logger)
//	router.GET("/api/previews/:id/events", events.HandleConnection)
//
//	sandboxes := ws.NewSandboxHandler(ws.SandboxOptions{Pool: pool})
//	router.GET("/sandbox", sandboxes.HandleConnection)
package ws
