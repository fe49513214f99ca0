package diagnostics

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/vvanghelue/surfpack/internal/sandbox"
)

// OverlayID is the id of the overlay element
const OverlayID = "surfpack-error-overlay"

// Surface displays at most one diagnostic at a time
type Surface interface {
	// Show replaces whatever is shown with d
	Show(d Diagnostic) error
	// Clear removes the shown diagnostic and reports whether there was one
	Clear() bool
	// Current returns the shown diagnostic
	Current() (Diagnostic, bool)
}

// OverlaySurface renders diagnostics into a window document
type OverlaySurface struct {
	doc *sandbox.Document

	mu      sync.Mutex
	current *Diagnostic
}

// NewOverlaySurface creates a surface drawing into doc
func NewOverlaySurface(doc *sandbox.Document) *OverlaySurface {
	return &OverlaySurface{doc: doc}
}

// Show implements Surface
func (s *OverlaySurface) Show(d Diagnostic) error {
	node, err := RenderOverlay(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.SetOverlay(node)
	s.current = &d
	return nil
}

// Clear implements Surface
func (s *OverlaySurface) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	return s.doc.ClearOverlay()
}

// Current implements Surface
func (s *OverlaySurface) Current() (Diagnostic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Diagnostic{}, false
	}
	return *s.current, true
}

// ============================================================================
// Rendering
// ============================================================================

type previewLine struct {
	CodeLine
	HTML  template.HTML
	Caret string
}

type overlayView struct {
	ID       string
	Title    string
	Message  string
	Stack    string
	FileName string
	Lines    []previewLine
}

var overlayTemplate = template.Must(template.New("overlay").Parse(
	`<div id="{{.ID}}" role="alert" style="position: fixed; inset: 0; z-index: 2147483647; background: rgba(0, 0, 0, 0.9); color: #f8f8f2; padding: 32px; overflow-y: auto; font-family: ui-monospace, Menlo, Consolas, monospace; box-sizing: border-box; display: flex; flex-direction: column; gap: 18px;">` +
		`<div style="font-size: 20px; font-weight: 700; color: #ff5555;">{{.Title}}</div>` +
		`<div style="font-size: 16px; white-space: pre-wrap;">{{.Message}}</div>` +
		`{{if .Lines}}<div style="margin-top: 16px; margin-bottom: 16px;">` +
		`<div style="font-size: 14px; line-height: 1.5; background: rgba(30, 30, 30, 0.95); border-radius: 8px; padding: 16px 0; overflow-x: auto;">` +
		`<div style="padding: 0 16px 12px 16px; color: #abb2bf; font-size: 13px; border-bottom: 1px solid rgba(255, 255, 255, 0.1); margin-bottom: 8px;">{{.FileName}}</div>` +
		`{{range .Lines}}` +
		`<div style="display: flex; padding-top: 2px; padding-bottom: 2px;{{if .IsErrorLine}} background: rgba(255, 85, 85, 0.1); border-left: 3px solid #ff5555;{{else}} border-left: 3px solid transparent;{{end}}">` +
		`<span style="display: inline-block; width: 60px; text-align: right; padding-right: 12px; flex-shrink: 0;{{if .IsErrorLine}} color: #ff5555; font-weight: bold;{{else}} color: #666;{{end}}">{{.Number}}</span>` +
		`<span style="white-space: pre; flex: 1;">{{.HTML}}</span>` +
		`</div>` +
		`{{if .Caret}}<div style="padding-left: 60px; color: #ff5555; font-weight: bold; white-space: pre; background: rgba(255, 85, 85, 0.1); border-left: 3px solid #ff5555;">{{.Caret}}</div>{{end}}` +
		`{{end}}` +
		`</div></div>{{end}}` +
		`<pre style="margin: 0; padding: 20px; border-radius: 12px; background: rgba(40, 40, 40, 0.8); font-size: 14px; line-height: 1.5; white-space: pre-wrap; word-break: break-word;">{{.Stack}}</pre>` +
		`</div>`))

var overlayPolicy = newOverlayPolicy()

func newOverlayPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "span", "pre")
	p.AllowAttrs("id", "role").Globally()
	p.AllowStyles(
		"position", "inset", "z-index", "display", "flex", "flex-direction", "flex-shrink", "gap",
		"background", "color", "font-family", "font-size", "font-weight", "font-style", "line-height",
		"padding", "padding-top", "padding-bottom", "padding-left", "padding-right",
		"margin", "margin-top", "margin-bottom", "border-radius", "border-left", "border-bottom",
		"overflow-x", "overflow-y", "box-sizing", "white-space", "word-break", "width", "text-align",
	).Matching(regexp.MustCompile(`^[\w\s#.,'()%-]+$`)).Globally()
	return p
}

// RenderOverlay renders d as a detached overlay element
func RenderOverlay(d Diagnostic) (*html.Node, error) {
	view := overlayView{
		ID:      OverlayID,
		Title:   d.Title,
		Message: d.Message,
		Stack:   d.Stack,
	}
	if d.Preview != nil {
		view.FileName = d.Preview.FileName
		for _, l := range d.Preview.Lines {
			pl := previewLine{
				CodeLine: l,
				// Highlight only wraps escaped text in spans
				HTML: template.HTML(Highlight(Escape(l.Content))),
			}
			if l.IsErrorLine && l.ErrorColumn > 0 {
				pl.Caret = strings.Repeat(" ", l.ErrorColumn-1) + "^"
			}
			view.Lines = append(view.Lines, pl)
		}
	}

	var buf bytes.Buffer
	if err := overlayTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render overlay: %w", err)
	}
	clean := overlayPolicy.SanitizeReader(&buf)

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(clean, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse overlay: %w", err)
	}
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			return n, nil
		}
	}
	return nil, fmt.Errorf("failed to render overlay: no element produced")
}
