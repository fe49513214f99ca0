package bundler

import (
	"fmt"
	"strings"

	"github.com/vvanghelue/surfpack/internal/manifest"
	"github.com/vvanghelue/surfpack/internal/shared/paths"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// EntrySource records which rule selected the entry
type EntrySource string

const (
	EntryExplicit    EntrySource = "explicit"
	EntryPackageMain EntrySource = "package-main"
	EntryHTMLScript  EntrySource = "html-script"
)

// EntryResolution is the chosen entry path and how it was found
type EntryResolution struct {
	Path   string
	Source EntrySource
}

// ResolveEntry picks the build entry for fm. An explicit entry always wins
// and is never silently replaced by a manifest hint.
func ResolveEntry(fm *vfs.FileMap, explicit string) (EntryResolution, error) {
	if explicit != "" {
		candidate := paths.Normalize(explicit)
		if strings.HasSuffix(strings.ToLower(candidate), ".html") {
			return EntryResolution{}, &ResolutionError{Entry: explicit, Err: ErrHTMLEntry}
		}
		if p, ok := paths.ResolveExisting(candidate, fm); ok {
			return EntryResolution{Path: p, Source: EntryExplicit}, nil
		}
		return EntryResolution{}, &ResolutionError{Entry: explicit, Tried: []string{"explicit " + candidate}}
	}

	var tried []string

	if pkg, ok := fm.Get(manifest.PackageJSON); ok {
		if main, ok := manifest.MainEntry(pkg); ok {
			candidate := paths.Normalize(main)
			if p, ok := paths.ResolveExisting(candidate, fm); ok {
				return EntryResolution{Path: p, Source: EntryPackageMain}, nil
			}
			tried = append(tried, fmt.Sprintf("package.json main %q", main))
		} else {
			tried = append(tried, "package.json without main")
		}
	}

	if doc, ok := fm.Get(manifest.IndexHTML); ok {
		if src, ok := manifest.ScriptEntry(doc, fm); ok {
			if p, ok := paths.ResolveExisting(paths.Normalize(src), fm); ok {
				return EntryResolution{Path: p, Source: EntryHTMLScript}, nil
			}
		}
		tried = append(tried, "index.html script tags")
	}

	if len(tried) == 0 {
		tried = append(tried, "no explicit entry, package.json or index.html")
	}
	return EntryResolution{}, &ResolutionError{Tried: tried}
}
