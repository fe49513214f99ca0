package diagnostics

import (
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/vvanghelue/surfpack/internal/vfs"
)

// DefaultContextLines is the number of lines shown around a failing line
const DefaultContextLines = 5

// CodeLine is one line of a code preview
type CodeLine struct {
	Number      int    `json:"lineNumber"`
	Content     string `json:"content"`
	IsErrorLine bool   `json:"isErrorLine"`
	ErrorColumn int    `json:"errorColumn,omitempty"`
}

// Preview is an excerpt of a project file around a failing position
type Preview struct {
	FileName  string     `json:"fileName"`
	StartLine int        `json:"startLine"`
	Lines     []CodeLine `json:"lines"`
}

// ErrorLine returns the flagged line, if the excerpt contains it
func (p *Preview) ErrorLine() (CodeLine, bool) {
	for _, l := range p.Lines {
		if l.IsErrorLine {
			return l, true
		}
	}
	return CodeLine{}, false
}

var (
	namespacePrefix = regexp.MustCompile(`^[a-zA-Z]+:`)
	dotSlashPrefix  = regexp.MustCompile(`^\.?/`)
)

// CodePreview builds an excerpt of contextLines lines on each side of line
// in the project file named fileName. fileName may carry a namespace prefix
// such as "virtual:".
func CodePreview(fileName string, line, column int, files *vfs.FileMap, contextLines int) (*Preview, bool) {
	if files == nil || line < 1 {
		return nil, false
	}
	content, ok := findSourceFile(fileName, files)
	if !ok || content == "" {
		return nil, false
	}
	if contextLines < 0 {
		contextLines = 0
	}

	lines := strings.Split(content, "\n")
	start := max(1, line-contextLines)
	end := min(len(lines), line+contextLines)

	p := &Preview{FileName: fileName, StartLine: start}
	for n := start; n <= end; n++ {
		cl := CodeLine{Number: n, Content: lines[n-1], IsErrorLine: n == line}
		if cl.IsErrorLine {
			cl.ErrorColumn = column
		}
		p.Lines = append(p.Lines, cl)
	}
	return p, true
}

func findSourceFile(fileName string, files *vfs.FileMap) (string, bool) {
	clean := namespacePrefix.ReplaceAllString(fileName, "")
	clean = dotSlashPrefix.ReplaceAllString(clean, "")

	for _, f := range files.Files() {
		if dotSlashPrefix.ReplaceAllString(f.Path, "") == clean || f.Path == fileName || f.Path == clean {
			return f.Content, true
		}
	}
	return "", false
}

// ============================================================================
// Highlighting
// ============================================================================

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Escape escapes text for inclusion in markup
func Escape(text string) string {
	return htmlEscaper.Replace(text)
}

const (
	commentSpan = `<span style="color: #5c6370; font-style: italic;">$1</span>`
	stringSpan  = `<span style="color: #98c379;">$1</span>`
	keywordSpan = `<span style="color: #c678dd;">$1</span>`
	numberSpan  = `<span style="color: #d19a66;">$1</span>`
)

var (
	commentPattern = regexp.MustCompile(`(//[^\n]*|/\*[\s\S]*?\*/)`)
	stringPattern  = regexp.MustCompile("(&#39;(?:[^&#39;\\\\]|\\\\.)*?&#39;|&quot;(?:[^&quot;\\\\]|\\\\.)*?&quot;|`(?:[^`\\\\]|\\\\.)*?`)")

	// Keywords and numbers skip text already inside a span; numbers also
	// skip character references
	keywordPattern = mustCompile2(`\b(const|let|var|function|async|await|return|if|else|for|while|class|extends|import|export|from|default|try|catch|throw|new|typeof|instanceof|this|super|static|public|private|protected|interface|type|enum)\b(?![^<]*</span>)`)
	numberPattern  = mustCompile2(`(?<!&#)\b(\d+\.?\d*)\b(?![^<]*</span>)`)
)

func mustCompile2(expr string) *regexp2.Regexp {
	re := regexp2.MustCompile(expr, regexp2.None)
	re.MatchTimeout = 50 * time.Millisecond
	return re
}

// Highlight colours already-escaped JavaScript or TypeScript source
func Highlight(escaped string) string {
	out := commentPattern.ReplaceAllString(escaped, commentSpan)
	out = stringPattern.ReplaceAllString(out, stringSpan)
	if replaced, err := keywordPattern.Replace(out, keywordSpan, -1, -1); err == nil {
		out = replaced
	}
	if replaced, err := numberPattern.Replace(out, numberSpan, -1, -1); err == nil {
		out = replaced
	}
	return out
}
