package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/bundler"
)

// ErrNoFetcher is returned when require() needs the network but the window
// has no fetcher
var ErrNoFetcher = errors.New("no module fetcher configured")

// ModuleLoader implements require() for bare specifiers of the bundle. It
// is owned by the event loop.
type ModuleLoader struct {
	w     *Window
	table ImportTable
	cache map[string]*goja.Object
	stack []string
}

func newModuleLoader(w *Window) *ModuleLoader {
	return &ModuleLoader{
		w:     w,
		table: DefaultImportTable(),
		cache: make(map[string]*goja.Object),
	}
}

// SetTable replaces the import table. A different table drops every cached
// module. Must run on the loop.
func (l *ModuleLoader) SetTable(t ImportTable) bool {
	if l.table.Equal(t) {
		return false
	}
	l.table = t.clone()
	l.Reset()
	return true
}

// Reset drops cached modules
func (l *ModuleLoader) Reset() {
	l.cache = make(map[string]*goja.Object)
}

// Cached reports whether the module at u has been evaluated
func (l *ModuleLoader) Cached(u string) bool {
	_, ok := l.cache[u]
	return ok
}

// Resolve maps a specifier to a module URL
func (l *ModuleLoader) Resolve(spec string) (string, bool) {
	if strings.HasPrefix(spec, "https://") || strings.HasPrefix(spec, "http://") {
		return spec, true
	}
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/") {
		if len(l.stack) == 0 {
			return "", false
		}
		base, err := url.Parse(l.stack[len(l.stack)-1])
		if err != nil {
			return "", false
		}
		ref, err := url.Parse(spec)
		if err != nil {
			return "", false
		}
		return base.ResolveReference(ref).String(), true
	}
	return l.table.Lookup(spec)
}

func (l *ModuleLoader) require(call goja.FunctionCall) goja.Value {
	vm := l.w.vm
	spec := call.Argument(0).String()
	u, ok := l.Resolve(spec)
	if !ok {
		panic(vm.NewTypeError("Cannot find module '%s'", spec))
	}
	return l.load(u)
}

func (l *ModuleLoader) load(u string) goja.Value {
	vm := l.w.vm
	if m, ok := l.cache[u]; ok {
		return m.Get("exports")
	}

	src, err := l.fetch(u)
	if err != nil {
		l.throw("Failed to fetch module %s: %v", u, err)
	}
	code, err := bundler.TransformCommonJS(string(src), u, l.w.cfg.Target)
	if err != nil {
		l.throw("Failed to transform module %s: %v", u, err)
	}

	wrapper := "(function(exports, require, module, __filename, __dirname) {" + code + "\n})"
	prg, err := goja.Compile(u, wrapper, false)
	if err != nil {
		l.throw("Failed to compile module %s: %v", u, err)
	}
	fnVal, err := vm.RunProgram(prg)
	if err != nil {
		panic(err)
	}
	fn, _ := goja.AssertFunction(fnVal)

	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	l.cache[u] = module

	dir := u
	if i := strings.LastIndex(u, "/"); i >= 0 {
		dir = u[:i]
	}
	l.stack = append(l.stack, u)
	_, err = fn(module, exports, vm.ToValue(l.require), module, vm.ToValue(u), vm.ToValue(dir))
	l.stack = l.stack[:len(l.stack)-1]
	if err != nil {
		delete(l.cache, u)
		panic(err)
	}
	return module.Get("exports")
}

func (l *ModuleLoader) fetch(u string) ([]byte, error) {
	w := l.w
	if w.fetcher == nil {
		return nil, ErrNoFetcher
	}
	ctx, cancel := context.WithTimeout(w.ctx, fetchTimeout(w.cfg.Timeout))
	defer cancel()

	start := time.Now()
	src, err := w.fetcher.Fetch(ctx, u)
	if err != nil {
		w.logger.Warn("Module fetch failed", zap.String("url", u), zap.Error(err))
		return nil, err
	}
	w.logger.Debug("Module fetched",
		zap.String("url", u),
		zap.Int("bytes", len(src)),
		zap.Duration("duration", time.Since(start)))
	return src, nil
}

// throw raises a plain Error in the VM
func (l *ModuleLoader) throw(format string, args ...any) {
	vm := l.w.vm
	ctor := vm.Get("Error")
	obj, err := vm.New(ctor, vm.ToValue(fmt.Sprintf(format, args...)))
	if err != nil {
		panic(err)
	}
	panic(obj)
}

func fetchTimeout(task time.Duration) time.Duration {
	if task <= 0 {
		return 30 * time.Second
	}
	return task
}
