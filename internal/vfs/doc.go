/*
Package vfs holds the in-memory project snapshot handed to a build.

A build never reads a real filesystem. It receives an ordered list of
SourceFile records and turns it into a FileMap, an immutable path to content
mapping created fresh for every build and discarded afterwards.

# Usage

	files := vfs.Sanitize(incoming)
	fm := vfs.NewFileMap(files)

	if content, ok := fm.Get("src/main.tsx"); ok {
		// ...
	}

Paths are stored in normalised form (no leading "./" or "/"), so
"./index.tsx", "/index.tsx" and "index.tsx" all name the same entry.
*/
package vfs
