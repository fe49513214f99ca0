package bundler

import (
	"fmt"

	"github.com/vvanghelue/surfpack/internal/shared/paths"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// virtualPlugin serves one build from its FileMap
type virtualPlugin struct {
	fm    *vfs.FileMap
	entry string
}

func newVirtualPlugin(fm *vfs.FileMap, entry string) *virtualPlugin {
	return &virtualPlugin{fm: fm, entry: entry}
}

func (p *virtualPlugin) Resolve(args ResolveArgs) (ResolveResult, error) {
	if args.Kind == ResolveEntryPoint {
		return ResolveResult{Path: p.entry, Namespace: VirtualNamespace}, nil
	}

	res := paths.Resolve(args.Path, args.Importer, p.fm)
	switch res.Kind {
	case paths.Resolved:
		return ResolveResult{Path: res.Path, Namespace: VirtualNamespace}, nil
	case paths.External:
		return ResolveResult{Path: args.Path, External: true}, nil
	default:
		return ResolveResult{Error: fmt.Sprintf("Could not resolve %q from %q", args.Path, args.Importer)}, nil
	}
}

func (p *virtualPlugin) Load(args LoadArgs) (LoadResult, error) {
	content, ok := p.fm.Get(args.Path)
	if !ok {
		return LoadResult{}, nil
	}
	return LoadResult{
		Contents:   content,
		Loader:     paths.LoaderFor(args.Path),
		ResolveDir: "/" + paths.Dir(args.Path),
		Found:      true,
	}, nil
}
