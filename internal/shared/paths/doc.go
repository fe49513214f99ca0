// Package paths resolves module specifiers against a virtual file map.
//
// All paths handled here are project-relative and slash separated, with no
// leading "./" or "/". Resolution is pure string manipulation and never
// touches the host filesystem.
//
// # Resolution order
//
// For a candidate path the first existing entry wins:
//
//	candidate
//	candidate + ext          for ext in .tsx .ts .jsx .js .json .css
//	candidate/index + ext    same order, skipped when candidate ends in "/"
//
// # Usage
//
//	res := paths.Resolve("./Button", "src/App.tsx", fm)
//	switch res.Kind {
//	case paths.Resolved:   // res.Path == "src/Button.tsx"
//	case paths.External:   // bare specifier left to the import table
//	case paths.Unresolved: // relative miss, reported by the compiler
//	}
package paths
