/*
Package runner is the sandbox-side agent of a preview.

A Runner owns one sandbox window and one protocol port bound to its
controller. On Start it installs error capture, announces itself with
sandbox-ready and then serves inbound messages in arrival order:

  - files-update: sanitize, build, install, acknowledge with build-result
  - load-route: navigate through the route bridge, no rebuild
  - error-overlay-setup: replace the diagnostic display policy

Builds run concurrently with later messages. Every build is tagged with a
token; a build whose token is no longer the latest stops silently before
installing or acknowledging anything.

StandaloneRun performs a single build and install without a controller.
*/
package runner
