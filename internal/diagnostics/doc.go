/*
Package diagnostics turns failures inside a sandbox into user-facing
diagnostics.

# Capture

Capture registers capturing listeners for error and unhandledrejection on
a sandbox window before any user code runs. Both listeners cancel the
event, so the window never logs it as uncaught. Failed sub-resource loads
and network-looking errors are filtered out and only logged.

# Decoding

Stack frames reference the module handle of the installed bundle. The
Decoder extracts the inline source map appended to the bundle, parses it
with go-sourcemap and maps every frame it can back to the project file.
The first mapped frame drives a code preview of the failing line.

# Surfaces

A Surface shows at most one diagnostic at a time. OverlaySurface renders
it as a single overlay element inside the window document.

Example:

	capture := diagnostics.NewCapture(diagnostics.Options{
		Sources: installer,
		Surface: diagnostics.NewOverlaySurface(window.Document()),
		Logger:  logger,
	})
	capture.Install(window)
*/
package diagnostics
