package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/controller"
	"github.com/vvanghelue/surfpack/internal/preview"
	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// ============================================================================
// Requests
// ============================================================================

// FileRequest is one project file
type FileRequest struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
}

// PolicyRequest selects the failures the overlay shows
type PolicyRequest struct {
	Runtime             bool `json:"runtime"`
	Compilation         bool `json:"compilation"`
	UnhandledRejections bool `json:"unhandledRejections"`
	ContextLines        int  `json:"contextLines" binding:"min=0,max=50"`
}

// OverlayRequest configures the error overlay. A missing policy shows
// every category.
type OverlayRequest struct {
	Enabled bool           `json:"enabled"`
	Policy  *PolicyRequest `json:"policy"`
}

// CreatePreviewRequest starts a preview
type CreatePreviewRequest struct {
	Files   []FileRequest   `json:"files" binding:"dive"`
	Entry   string          `json:"entry"`
	Route   string          `json:"route" binding:"omitempty,startswith=/"`
	Overlay *OverlayRequest `json:"overlay"`
}

// ReplaceFilesRequest replaces the whole project
type ReplaceFilesRequest struct {
	Files []FileRequest `json:"files" binding:"required,dive"`
	Entry string        `json:"entry"`
}

// NavigateRequest loads a route
type NavigateRequest struct {
	Route string `json:"route" binding:"required,startswith=/"`
}

func sourceFiles(in []FileRequest) []vfs.SourceFile {
	out := make([]vfs.SourceFile, len(in))
	for i, f := range in {
		out[i] = vfs.SourceFile{Path: f.Path, Content: f.Content}
	}
	return out
}

func (o OverlayRequest) setup() protocol.ErrorOverlaySetup {
	policy := protocol.DefaultPolicy()
	if o.Policy != nil {
		policy = protocol.Policy{
			Runtime:             o.Policy.Runtime,
			Compilation:         o.Policy.Compilation,
			UnhandledRejections: o.Policy.UnhandledRejections,
			ContextLines:        o.Policy.ContextLines,
		}
	}
	return protocol.ErrorOverlaySetup{Enabled: o.Enabled, Policy: policy}
}

// ============================================================================
// Handlers
// ============================================================================

// CreatePreview launches a preview. With ?wait=true the response carries
// the outcome of the first build.
func (h *Handlers) CreatePreview(c *gin.Context) {
	var req CreatePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	wait, ok := waitParam(c)
	if !ok {
		return
	}

	create := preview.CreateRequest{
		Files: sourceFiles(req.Files),
		Entry: req.Entry,
		Route: req.Route,
	}
	if req.Overlay != nil {
		setup := req.Overlay.setup()
		create.Overlay = &setup
	}

	p, err := h.previews.Create(c.Request.Context(), create)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !wait || len(create.Files) == 0 {
		c.JSON(http.StatusCreated, p.Status())
		return
	}
	h.respondAfterBuild(c, p, 0, http.StatusCreated)
}

// ListPreviews lists all live previews
func (h *Handlers) ListPreviews(c *gin.Context) {
	previews := h.previews.List()
	if previews == nil {
		previews = []preview.Status{}
	}
	c.JSON(http.StatusOK, gin.H{
		"previews": previews,
		"count":    len(previews),
	})
}

// GetPreview returns one preview's status
func (h *Handlers) GetPreview(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p.Status())
}

// DestroyPreview tears a preview down
func (h *Handlers) DestroyPreview(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.previews.Destroy(p.ID()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReplaceFiles replaces the project and rebuilds
func (h *Handlers) ReplaceFiles(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req ReplaceFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	wait, ok := waitParam(c)
	if !ok {
		return
	}

	before := p.Builds()
	if err := p.ReplaceFiles(c.Request.Context(), sourceFiles(req.Files), req.Entry); err != nil {
		h.fail(c, err)
		return
	}
	h.respondUpdate(c, p, wait, before)
}

// PatchFile updates one file and rebuilds
func (h *Handlers) PatchFile(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	wait, ok := waitParam(c)
	if !ok {
		return
	}

	before := p.Builds()
	if err := p.PatchFile(c.Request.Context(), vfs.SourceFile{Path: req.Path, Content: req.Content}); err != nil {
		h.fail(c, err)
		return
	}
	h.respondUpdate(c, p, wait, before)
}

// Navigate loads a route in the preview
func (h *Handlers) Navigate(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if err := p.Navigate(c.Request.Context(), req.Route); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"id":    p.ID(),
		"route": req.Route,
	})
}

// SetOverlay configures the error overlay
func (h *Handlers) SetOverlay(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req OverlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	setup := req.setup()
	if err := p.SetOverlay(c.Request.Context(), setup); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"id":      p.ID(),
		"overlay": setup,
	})
}

// ============================================================================
// Helpers
// ============================================================================

func (h *Handlers) lookup(c *gin.Context) (*preview.Preview, bool) {
	p, err := h.previews.Lookup(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return p, true
}

func waitParam(c *gin.Context) (bool, bool) {
	raw := c.Query("wait")
	if raw == "" {
		return false, true
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wait must be a boolean"})
		return false, false
	}
	return wait, true
}

func (h *Handlers) respondUpdate(c *gin.Context, p *preview.Preview, wait bool, before uint64) {
	if !wait {
		c.JSON(http.StatusAccepted, p.Status())
		return
	}
	h.respondAfterBuild(c, p, before, http.StatusOK)
}

// respondAfterBuild waits for the build after before. A build that does not
// finish in time is answered with 202 and the current status.
func (h *Handlers) respondAfterBuild(c *gin.Context, p *preview.Preview, before uint64, code int) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.BuildWait)
	defer cancel()

	if t := h.opts.Tracer; t != nil {
		span, spanCtx := t.StartSpan(ctx, "preview.await_build")
		span.SetTag("preview", p.ID().String())
		ctx = spanCtx
		defer func() { t.End(span, nil) }()
	}

	status, err := p.AwaitBuild(ctx, before)
	if err != nil {
		h.logger.Debug("Build wait expired",
			zap.String("preview", p.ID().String()),
			zap.Error(err))
		c.JSON(http.StatusAccepted, status)
		return
	}
	c.JSON(code, status)
}

// fail maps domain errors to HTTP statuses
func (h *Handlers) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, preview.ErrSessionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, preview.ErrTooMany):
		code = http.StatusServiceUnavailable
	case errors.Is(err, preview.ErrNoDocument):
		code = http.StatusConflict
	case errors.Is(err, controller.ErrDestroyed), errors.Is(err, protocol.ErrPortClosed):
		code = http.StatusGone
	case errors.Is(err, controller.ErrEmptyRoute), errors.Is(err, controller.ErrInvalidRoute):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(code, gin.H{"error": err.Error()})
}
