/*
Package preview keeps the live previews of a server process.

A Preview pairs a controller.Handle with bookkeeping the outer layers need:
a ULID-based ID, the build state, a bounded history of host events and
subscribers for streaming them. In-process previews also expose a snapshot
of their document together with the fingerprint of the installed bundle.

	mgr := preview.NewManager(launcher, preview.Options{Logger: logger})
	p, err := mgr.Create(ctx, preview.CreateRequest{Files: files, Route: "/"})
	status, err := p.AwaitBuild(ctx, 0)
*/
package preview
