// Package manifest mines the declarative project files for build hints.
//
// Two well-known files are understood:
//
//   - package.json: the "main" entry and the "dependencies" table
//   - index.html: the script-tag entry heuristic, inline <style> bodies,
//     same-origin stylesheet links, and the head/body element lists used to
//     reconcile the sandbox document
//
// Manifests are never compiled. Malformed input yields empty results rather
// than errors; a broken manifest must not hide a perfectly good entry passed
// explicitly.
package manifest
