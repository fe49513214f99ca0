package manifest

import (
	"github.com/bytedance/sonic"
)

// Well-known manifest paths
const (
	PackageJSON = "package.json"
	IndexHTML   = "index.html"
)

// MainEntry returns the string "main" field of a package.json document
func MainEntry(content string) (string, bool) {
	var doc map[string]any
	if err := sonic.UnmarshalString(content, &doc); err != nil {
		return "", false
	}
	main, ok := doc["main"].(string)
	if !ok {
		return "", false
	}
	return main, true
}

// Dependencies returns the "dependencies" table of a package.json document.
// Non-string versions are skipped. The result is nil when the table is
// missing or the document does not parse.
func Dependencies(content string) map[string]string {
	var doc struct {
		Dependencies map[string]any `json:"dependencies"`
	}
	if err := sonic.UnmarshalString(content, &doc); err != nil || doc.Dependencies == nil {
		return nil
	}
	deps := make(map[string]string, len(doc.Dependencies))
	for name, v := range doc.Dependencies {
		if version, ok := v.(string); ok {
			deps[name] = version
		}
	}
	return deps
}
