package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
)

// Document serves the rendered document of an in-process preview. The ETag
// is the installed bundle fingerprint qualified by a hash of the markup, so
// runtime DOM changes invalidate it too.
func (h *Handlers) Document(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	snap, err := p.Document()
	if err != nil {
		h.fail(c, err)
		return
	}

	etag := documentETag(snap.Fingerprint, snap.HTML)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Surfpack-Overlay", strconv.FormatBool(snap.Overlay))
	if matchesETag(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return
	}

	h.gzip(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(snap.HTML))
	})).ServeHTTP(c.Writer, c.Request)
}

func documentETag(fingerprint, html string) string {
	if fingerprint == "" {
		fingerprint = "none"
	}
	return fmt.Sprintf(`"%s-%016x"`, fingerprint, xxhash.Sum64String(html))
}

func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
