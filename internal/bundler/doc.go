/*
Package bundler compiles a virtual project into a single executable bundle.

# Overview

An Orchestrator takes the files of one build, snapshots them into a
vfs.FileMap, resolves the entry point, and hands the work to an Engine with a
Plugin bound to that snapshot. The plugin answers every module resolution
and load request from the snapshot; bare specifiers that are not project
files are left external for the sandbox import table.

# Entry resolution

The entry is chosen in this order, each candidate completed with the
extension and index fallbacks of package paths:

 1. the explicit entry argument (".html" is rejected)
 2. the "main" field of package.json
 3. the first <script src> of index.html naming a known file

# Errors

  - *ResolutionError: no entry could be found; a plain build failure
  - *CompilationError: the engine rejected the sources

Both are reported to the controller as a failed build result; only
CompilationError is shown with the "Compilation Error" title.

# Engine

The production Engine wraps github.com/evanw/esbuild. The Engine and Plugin
interfaces keep the rest of the system independent of the compiler surface.
*/
package bundler
