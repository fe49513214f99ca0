package paths

import (
	"strings"
)

// Extensions is the fixed fallback order used when completing a candidate
var Extensions = []string{".tsx", ".ts", ".jsx", ".js", ".json", ".css"}

// Lookup is the read side of a file map
type Lookup interface {
	Has(path string) bool
}

// Kind classifies a resolution outcome
type Kind int

const (
	Unresolved Kind = iota
	Resolved
	External
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case External:
		return "external"
	default:
		return "unresolved"
	}
}

// Resolution is the outcome of resolving one specifier
type Resolution struct {
	Kind Kind
	// Path is the existing file for Resolved, the specifier for External and
	// the attempted candidate for Unresolved.
	Path string
}

// ============================================================================
// Path Arithmetic
// ============================================================================

// Normalize strips one leading "./" and every leading "/"
func Normalize(p string) string {
	p = strings.TrimPrefix(p, "./")
	return strings.TrimLeft(p, "/")
}

// Dir returns all segments of p but the last. The root is "".
func Dir(p string) string {
	p = Normalize(p)
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Base returns the last segment of p
func Base(p string) string {
	p = Normalize(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// IsRelative reports whether spec is a relative or absolute path specifier
func IsRelative(spec string) bool {
	return strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/")
}

// Join resolves specifier against the directory of importer. A leading "/"
// resolves from the project root, ".." never climbs above it, and a trailing
// "/" on the specifier is kept.
func Join(importer, specifier string) string {
	var stack []string
	if !strings.HasPrefix(specifier, "/") {
		if dir := Dir(importer); dir != "" {
			stack = strings.Split(dir, "/")
		}
	}

	trailing := strings.HasSuffix(specifier, "/")
	for _, seg := range strings.Split(specifier, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	joined := strings.Join(stack, "/")
	if trailing && joined != "" {
		joined += "/"
	}
	return joined
}

// ============================================================================
// Resolution
// ============================================================================

// ResolveExisting completes candidate against fm using the extension and
// index fallbacks. It returns "" and false when nothing matches.
func ResolveExisting(candidate string, fm Lookup) (string, bool) {
	if candidate == "" || fm == nil {
		return "", false
	}
	if fm.Has(candidate) {
		return candidate, true
	}
	for _, ext := range Extensions {
		if p := candidate + ext; fm.Has(p) {
			return p, true
		}
	}
	if !strings.HasSuffix(candidate, "/") {
		for _, ext := range Extensions {
			if p := candidate + "/index" + ext; fm.Has(p) {
				return p, true
			}
		}
	}
	return "", false
}

// Resolve maps an import specifier seen in importer onto fm.
//
// Relative and absolute specifiers are joined with the importer directory and
// completed; a miss is Unresolved. Bare specifiers are first tried as direct
// project paths and otherwise reported External.
func Resolve(specifier, importer string, fm Lookup) Resolution {
	if IsRelative(specifier) {
		candidate := Join(importer, specifier)
		if p, ok := ResolveExisting(candidate, fm); ok {
			return Resolution{Kind: Resolved, Path: p}
		}
		return Resolution{Kind: Unresolved, Path: candidate}
	}

	if p, ok := ResolveExisting(Normalize(specifier), fm); ok {
		return Resolution{Kind: Resolved, Path: p}
	}
	return Resolution{Kind: External, Path: specifier}
}

// ============================================================================
// Loaders
// ============================================================================

// Loader names the language mode a file is compiled with
type Loader string

const (
	LoaderTSX  Loader = "tsx"
	LoaderTS   Loader = "ts"
	LoaderJSX  Loader = "jsx"
	LoaderJS   Loader = "js"
	LoaderJSON Loader = "json"
	LoaderCSS  Loader = "css"
	LoaderText Loader = "text"
)

// LoaderFor picks the language mode for path. Extension-less files are
// treated as tsx.
func LoaderFor(path string) Loader {
	p := Normalize(path)
	if !strings.Contains(Base(p), ".") {
		return LoaderTSX
	}
	switch {
	case strings.HasSuffix(p, ".tsx"):
		return LoaderTSX
	case strings.HasSuffix(p, ".ts"):
		return LoaderTS
	case strings.HasSuffix(p, ".jsx"):
		return LoaderJSX
	case strings.HasSuffix(p, ".json"):
		return LoaderJSON
	case strings.HasSuffix(p, ".css"):
		return LoaderCSS
	case strings.HasSuffix(p, ".txt"):
		return LoaderText
	default:
		return LoaderJS
	}
}
