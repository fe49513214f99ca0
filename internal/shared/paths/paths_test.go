package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type set map[string]bool

func (s set) Has(p string) bool { return s[p] }

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"./index.tsx", "index.tsx"},
		{"/src/a.ts", "src/a.ts"},
		{"///a", "a"},
		{"././a", "./a"},
		{"a/b", "a/b"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestDir(t *testing.T) {
	assert.Equal(t, "", Dir("index.tsx"))
	assert.Equal(t, "src", Dir("src/App.tsx"))
	assert.Equal(t, "src/components", Dir("/src/components/Button.tsx"))
}

func TestJoin(t *testing.T) {
	tests := []struct {
		importer, spec, want string
	}{
		{"src/App.tsx", "./Button", "src/Button"},
		{"src/App.tsx", "../lib/util", "lib/util"},
		{"src/App.tsx", "../../../x", "x"},
		{"src/App.tsx", "/root.ts", "root.ts"},
		{"index.tsx", "./components/", "components/"},
		{"", "./a", "a"},
		{"a/b/c.ts", "./././d", "a/b/d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Join(tt.importer, tt.spec), "%s + %s", tt.importer, tt.spec)
	}
}

func TestResolveExistingOrder(t *testing.T) {
	fm := set{
		"src/Button.ts":        true,
		"src/Button.tsx":       true,
		"src/widgets/index.js": true,
		"src/widgets/index.ts": true,
		"data.json":            true,
	}

	p, ok := ResolveExisting("src/Button", fm)
	assert.True(t, ok)
	assert.Equal(t, "src/Button.tsx", p)

	p, ok = ResolveExisting("src/widgets", fm)
	assert.True(t, ok)
	assert.Equal(t, "src/widgets/index.ts", p)

	_, ok = ResolveExisting("src/widgets/", fm)
	assert.False(t, ok, "trailing slash skips index fallback")

	p, _ = ResolveExisting("data.json", fm)
	assert.Equal(t, "data.json", p)
}

func TestResolve(t *testing.T) {
	fm := set{"src/App.tsx": true, "src/utils.ts": true, "shared/x.ts": true}

	tests := []struct {
		name     string
		spec     string
		importer string
		want     Resolution
	}{
		{"relative hit", "./utils", "src/App.tsx", Resolution{Resolved, "src/utils.ts"}},
		{"relative miss", "./missing", "src/App.tsx", Resolution{Unresolved, "src/missing"}},
		{"absolute hit", "/shared/x", "src/App.tsx", Resolution{Resolved, "shared/x.ts"}},
		{"bare as path", "shared/x", "src/App.tsx", Resolution{Resolved, "shared/x.ts"}},
		{"bare external", "react", "src/App.tsx", Resolution{External, "react"}},
		{"scoped external", "@tanstack/query", "src/App.tsx", Resolution{External, "@tanstack/query"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.spec, tt.importer, fm))
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	fm := set{"a.ts": true, "a.tsx": true, "a/index.ts": true}
	first := Resolve("./a", "index.tsx", fm)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Resolve("./a", "index.tsx", fm))
	}
	assert.Equal(t, "a.tsx", first.Path)
}

func TestLoaderFor(t *testing.T) {
	tests := map[string]Loader{
		"main":         LoaderTSX,
		"src/App.tsx":  LoaderTSX,
		"x.ts":         LoaderTS,
		"x.jsx":        LoaderJSX,
		"x.js":         LoaderJS,
		"x.mjs":        LoaderJS,
		"x.json":       LoaderJSON,
		"styles.css":   LoaderCSS,
		"notes.txt":    LoaderText,
		"dir.v2/entry": LoaderTSX,
	}
	for in, want := range tests {
		assert.Equal(t, want, LoaderFor(in), in)
	}
}
