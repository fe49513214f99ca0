package sandbox

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/bundler"
	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/manifest"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// HandlePrefix prefixes every executable-module handle
const HandlePrefix = "blob:surfpack/"

// TokenSource mints build tokens. Only the most recent token is current.
type TokenSource struct {
	latest atomic.Uint64
}

// Next mints a new token, making every earlier one stale
func (s *TokenSource) Next() uint64 {
	return s.latest.Add(1)
}

// Latest returns the most recently minted token
func (s *TokenSource) Latest() uint64 {
	return s.latest.Load()
}

// IsCurrent reports whether token is still the latest
func (s *TokenSource) IsCurrent(token uint64) bool {
	return s.latest.Load() == token
}

// Installed describes the bundle currently installed in a window
type Installed struct {
	Token       uint64
	Handle      string
	Code        string
	Fingerprint string
	Files       *vfs.FileMap
}

// InstallerOptions configures an Installer
type InstallerOptions struct {
	CDN             string
	ClearDiagnostic func()
	Logger          *zap.Logger
	Metrics         *monitoring.Metrics
}

// Installer applies compiled bundles to a window
type Installer struct {
	w       *Window
	tokens  *TokenSource
	opts    InstallerOptions
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.RWMutex
	current Installed
}

// NewInstaller creates an installer for w. tokens is shared with whoever
// starts builds.
func NewInstaller(w *Window, tokens *TokenSource, opts InstallerOptions) *Installer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{
		w:       w,
		tokens:  tokens,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Current returns the installed bundle
func (i *Installer) Current() Installed {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.current
}

// Source returns the compiled code registered under handle
func (i *Installer) Source(handle string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if handle == "" || handle != i.current.Handle {
		return "", false
	}
	return i.current.Code, true
}

// Files returns the project snapshot of the installed bundle
func (i *Installer) Files() *vfs.FileMap {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.current.Files
}

type installStep struct {
	name string
	run  func(vm *goja.Runtime) error
}

// Install applies bundle in order: clear the diagnostic, replace styles,
// reconcile the HTML manifest, swap the module handle, refresh the import
// table, evaluate. Each step first checks that token is still current and
// stops silently if not. Script failures surface as window error events;
// the returned error only reports that the window could not be reached.
func (i *Installer) Install(ctx context.Context, token uint64, bundle *bundler.CompiledBundle, files []vfs.SourceFile) error {
	fm := vfs.NewFileMap(files)
	w := i.w
	doc := w.document
	var handle string

	steps := []installStep{
		{"clear-diagnostic", func(*goja.Runtime) error {
			if i.opts.ClearDiagnostic != nil {
				i.opts.ClearDiagnostic()
			}
			return nil
		}},
		{"styles", func(*goja.Runtime) error {
			doc.ReplaceStyles(bundle.CSS)
			return nil
		}},
		{"manifest", func(*goja.Runtime) error {
			if content, ok := fm.Get(manifest.IndexHTML); ok {
				doc.ReconcileManifest(manifest.HeadElements(content), manifest.BodyElements(content))
			}
			return nil
		}},
		{"handle", func(*goja.Runtime) error {
			handle = HandlePrefix + uuid.NewString()
			doc.ResetRoot()
			i.mu.Lock()
			previous := i.current.Handle
			i.current = Installed{
				Token:       token,
				Handle:      handle,
				Code:        bundle.Code,
				Fingerprint: bundle.Fingerprint,
				Files:       fm,
			}
			i.mu.Unlock()
			if previous != "" {
				i.logger.Debug("Revoked module handle", zap.String("handle", previous))
			}
			return nil
		}},
		{"import-map", func(*goja.Runtime) error {
			table := BuildImportTable(i.dependencies(fm), i.opts.CDN)
			changed, err := doc.SetImportMap(table)
			if err != nil {
				return err
			}
			if w.modules.SetTable(table) || changed {
				i.logger.Debug("Import table refreshed", zap.Int("entries", len(table)))
			}
			return nil
		}},
		{"evaluate", func(*goja.Runtime) error {
			w.evaluate(handle, bundle.Code)
			return nil
		}},
	}

	for _, step := range steps {
		stale := false
		err := w.Run(ctx, func(vm *goja.Runtime) error {
			if !i.tokens.IsCurrent(token) {
				stale = true
				return nil
			}
			return step.run(vm)
		})
		if err != nil {
			return err
		}
		if stale {
			i.metrics.RecordInstall("stale")
			i.logger.Debug("Install superseded", zap.Uint64("token", token), zap.String("step", step.name))
			return nil
		}
	}

	i.metrics.RecordInstall("installed")
	i.logger.Info("Bundle installed",
		zap.Uint64("token", token),
		zap.String("handle", handle),
		zap.String("fingerprint", bundle.Fingerprint),
		zap.Int("files", fm.Len()))
	return nil
}

func (i *Installer) dependencies(fm *vfs.FileMap) map[string]string {
	content, ok := fm.Get(manifest.PackageJSON)
	if !ok {
		return nil
	}
	return manifest.Dependencies(content)
}
