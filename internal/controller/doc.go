/*
Package controller is the host-facing side of a preview.

Init launches a sandbox through a Launcher and returns a Handle that mirrors
what the host needs to know about it: the current file set, the entry, the
last reported route and whether the sandbox has announced itself.

# Sequencing

The sandbox cannot accept files before it sends sandbox-ready. Until then
the Handle keeps only the most recent file set; when sandbox-ready arrives
the pending update (and any pending overlay setup) is flushed exactly once.
Every files-update carries the mirrored route so a rebuild restores the
location the user was looking at.

# Events

BuildSucceeded, BuildFailed, SandboxReady and LocationChanged are delivered
to the callbacks in Options and to every subscriber, in the order the
sandbox sent them. Messages from any endpoint other than the launched
sandbox are dropped.

# Launchers

InProcessLauncher runs the sandbox window and its runner in this process
over an in-memory pipe. RemoteLauncher dials a sandbox served over a
websocket.
*/
package controller
