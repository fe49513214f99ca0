/*
Package sandbox provides the isolated execution context previews run in.

# Overview

A Window pairs one goja VM with the browser surface user bundles expect:

  - an emulated document (golang.org/x/net/html tree, queried with goquery)
  - session history and location
  - a window-level event target (error, unhandledrejection, popstate)
  - timers, queueMicrotask and console capture
  - require() backed by an import table and a remote module fetcher

# Event Loop

Every Window owns a single goroutine that runs tasks in FIFO order. Nothing
touches the VM outside that goroutine. Hosts enqueue work with Run (waits
for the result) or Post (fire and forget). Each task runs under the
configured execution limit; the VM is interrupted when it overruns.

Exceptions escaping a task become error events. Promises rejected during a
task with no handler attached by its end become unhandledrejection events.
Both are cancelable; an uncanceled event is logged.

# Installing Bundles

The Installer applies a compiled bundle in six ordered steps: clear the
diagnostic, replace injected styles, reconcile the HTML manifest, swap the
module handle, refresh the import table and evaluate. A TokenSource shared
with the build side makes superseded installs stop before their next side
effect.

Module handles are named blob:surfpack/<uuid>. Stack frames reference the
handle, which is what source map decoding keys on.

# Usage Example

	w, err := sandbox.NewWindow(sandbox.DefaultConfig(), sandbox.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	w.AddEventListener(sandbox.EventError, func(vm *goja.Runtime, e *sandbox.Event) {
		e.PreventDefault()
		log.Println(e.Message)
	}, true)

	tokens := &sandbox.TokenSource{}
	installer := sandbox.NewInstaller(w, tokens, sandbox.InstallerOptions{})
	err = installer.Install(ctx, tokens.Next(), bundle, files)
*/
package sandbox
