package sandbox

import (
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// DefaultCDN serves dependency URLs when none is configured
const DefaultCDN = "https://esm.sh"

// ImportTable maps bare module specifiers to URLs
type ImportTable map[string]string

// well-known sub-path imports added alongside their package
var subPaths = map[string][]string{
	"react":     {"jsx-runtime", "jsx-dev-runtime"},
	"react-dom": {"client", "server"},
	"preact":    {"hooks", "jsx-runtime"},
}

// DefaultImportTable is the React 18 table used when the project declares
// no dependencies
func DefaultImportTable() ImportTable {
	return ImportTable{
		"react":                 "https://esm.sh/react@18.3.1",
		"react-dom":             "https://esm.sh/react-dom@18.3.1",
		"react-dom/client":      "https://esm.sh/react-dom@18.3.1/client",
		"react/jsx-runtime":     "https://esm.sh/react@18.3.1/jsx-runtime",
		"react/jsx-dev-runtime": "https://esm.sh/react@18.3.1/jsx-dev-runtime",
		"react-router-dom":      "https://esm.sh/react-router-dom@latest",
	}
}

// BuildImportTable maps each dependency to <cdn>/name@version. An empty
// dependency set yields the default table.
func BuildImportTable(deps map[string]string, cdn string) ImportTable {
	if len(deps) == 0 {
		return DefaultImportTable()
	}
	if cdn == "" {
		cdn = DefaultCDN
	}
	cdn = strings.TrimRight(cdn, "/")

	table := make(ImportTable, len(deps))
	for name, version := range deps {
		version = strings.TrimSpace(version)
		if version == "" || version == "*" {
			version = "latest"
		}
		base := cdn + "/" + name + "@" + version
		table[name] = base
		for _, sub := range subPaths[name] {
			table[name+"/"+sub] = base + "/" + sub
		}
	}
	return table
}

// Equal compares two tables by value
func (t ImportTable) Equal(other ImportTable) bool {
	if len(t) != len(other) {
		return false
	}
	for k, v := range t {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Lookup resolves spec to a URL. Exact entries win; otherwise the longest
// package entry that prefixes spec is extended with the remaining sub-path.
func (t ImportTable) Lookup(spec string) (string, bool) {
	if u, ok := t[spec]; ok {
		return u, true
	}
	best := ""
	for key := range t {
		if strings.HasPrefix(spec, key+"/") && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return "", false
	}
	return t[best] + spec[len(best):], true
}

// Specifiers returns the table keys in sorted order
func (t ImportTable) Specifiers() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JSON renders the table as an import map document
func (t ImportTable) JSON() (string, error) {
	imports := map[string]string(t)
	if imports == nil {
		imports = map[string]string{}
	}
	b, err := sonic.ConfigStd.Marshal(map[string]any{"imports": imports})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (t ImportTable) clone() ImportTable {
	out := make(ImportTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
