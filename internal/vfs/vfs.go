package vfs

import (
	"sort"

	"github.com/vvanghelue/surfpack/internal/shared/paths"
)

// SourceFile is one project file as sent by the controller
type SourceFile struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

// FileMap is an immutable snapshot of a project keyed by normalised path
type FileMap struct {
	order   []string
	content map[string]string
}

// NewFileMap builds a snapshot from files. Later duplicates overwrite earlier
// ones but keep the first-seen position.
func NewFileMap(files []SourceFile) *FileMap {
	fm := &FileMap{
		order:   make([]string, 0, len(files)),
		content: make(map[string]string, len(files)),
	}
	for _, f := range files {
		p := paths.Normalize(f.Path)
		if p == "" {
			continue
		}
		if _, seen := fm.content[p]; !seen {
			fm.order = append(fm.order, p)
		}
		fm.content[p] = f.Content
	}
	return fm
}

// Has reports whether path is present
func (fm *FileMap) Has(path string) bool {
	if fm == nil {
		return false
	}
	_, ok := fm.content[path]
	return ok
}

// Get returns the content stored at path
func (fm *FileMap) Get(path string) (string, bool) {
	if fm == nil {
		return "", false
	}
	c, ok := fm.content[path]
	return c, ok
}

// Len returns the number of files
func (fm *FileMap) Len() int {
	if fm == nil {
		return 0
	}
	return len(fm.order)
}

// Paths returns all paths in lexical order
func (fm *FileMap) Paths() []string {
	if fm == nil {
		return nil
	}
	out := make([]string, len(fm.order))
	copy(out, fm.order)
	sort.Strings(out)
	return out
}

// Files returns the snapshot as records in insertion order
func (fm *FileMap) Files() []SourceFile {
	if fm == nil {
		return nil
	}
	out := make([]SourceFile, 0, len(fm.order))
	for _, p := range fm.order {
		out = append(out, SourceFile{Path: p, Content: fm.content[p]})
	}
	return out
}

// Sanitize drops records without a path, normalises the rest and collapses
// duplicates (last write wins, first position kept).
func Sanitize(files []SourceFile) []SourceFile {
	return NewFileMap(files).Files()
}

// Patch returns a copy of files with file replaced by path, or appended when
// no record matches. The input slice is never modified.
func Patch(files []SourceFile, file SourceFile) []SourceFile {
	target := paths.Normalize(file.Path)
	out := make([]SourceFile, 0, len(files)+1)
	replaced := false
	for _, f := range files {
		if !replaced && paths.Normalize(f.Path) == target {
			out = append(out, file)
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, file)
	}
	return out
}
