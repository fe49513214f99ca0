// Package project loads a project directory from disk into the file list a
// preview builds from.
//
// Files are collected concurrently with fastwalk. Paths matching an ignore
// glob (doublestar syntax, relative to the root) are skipped, binary files
// are detected by content and skipped, and text in a legacy encoding is
// transcoded to UTF-8.
//
// An optional settings file at the root (.surfpack.yaml, .surfpack.yml or
// .surfpack.toml) supplies the entry, the initial route, the dependency CDN
// and extra ignore globs.
package project
