package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// writeProject creates a project directory from path -> content
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func runCLI(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	app := newCLIApp(&stdout, &stderr)
	err := app.Run(append([]string{"surfpack", "--log-level", "error"}, args...))
	return stdout.String(), stderr.String(), err
}

var helloProject = map[string]string{
	"package.json":   `{"main":"src/main.js"}`,
	"src/main.js":    "import { greet } from './greet';\ndocument.getElementById('root').textContent = greet('cli');\n",
	"src/greet.js":   "export const greet = (name) => 'hello ' + name;\n",
	"src/style.css":  "#root { color: red; }\n",
	"logo.png":       "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR",
	"node_modules/x": "ignored",
}

func TestBuildCommand(t *testing.T) {
	dir := writeProject(t, helloProject)
	out := filepath.Join(t.TempDir(), "bundle.js")

	stdout, _, err := runCLI("build", "--out", out, dir)
	require.NoError(t, err)

	var summary BuildSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, "src/main.js", summary.Entry)
	assert.Equal(t, "package-main", summary.EntrySource)
	assert.Equal(t, 4, summary.Files)
	assert.NotEmpty(t, summary.Fingerprint)
	assert.Equal(t, out, summary.Output)
	require.Len(t, summary.Skipped, 1)
	assert.Equal(t, "logo.png", summary.Skipped[0].Path)

	code, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(code), "hello ")
}

func TestBuildCommandErrors(t *testing.T) {
	_, _, err := runCLI("build")
	assert.Error(t, err)

	dir := writeProject(t, map[string]string{"a.js": "export const = ;"})
	_, _, err = runCLI("build", "--entry", "a.js", dir)
	require.Error(t, err)
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.ExitCode())

	_, _, err = runCLI("build", dir)
	assert.Error(t, err, "no entry can be resolved")
}

func TestRunCommand(t *testing.T) {
	dir := writeProject(t, helloProject)

	stdout, _, err := runCLI("run", "--select", "#root", dir)
	require.NoError(t, err)
	assert.Equal(t, "hello cli\n", stdout)

	stdout, _, err = runCLI("run", "--json", dir)
	require.NoError(t, err)
	var report RunReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "src/main.js", report.Entry)
	assert.Contains(t, report.HTML, "hello cli")
	assert.Empty(t, report.Diagnostics)
}

func TestRunCommandReportsRuntimeErrors(t *testing.T) {
	dir := writeProject(t, map[string]string{
		".surfpack.yaml": "entry: main.js\n",
		"main.js":        "Promise.resolve().then(function () { throw new Error('boom') });\n",
	})

	_, stderr, err := runCLI("run", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 runtime error(s)")
	assert.Contains(t, stderr, "boom")
}
