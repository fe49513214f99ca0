package bundler

import (
	"context"

	"github.com/vvanghelue/surfpack/internal/shared/paths"
)

// VirtualNamespace tags modules served from the project snapshot
const VirtualNamespace = "virtual"

// ResolveKind distinguishes the entry request from ordinary imports
type ResolveKind int

const (
	ResolveImport ResolveKind = iota
	ResolveEntryPoint
)

// ResolveArgs describes one resolution request from the engine
type ResolveArgs struct {
	Path      string
	Importer  string
	Namespace string
	Kind      ResolveKind
}

// ResolveResult answers a resolution request. An empty Error with no Path
// and External unset leaves the request to the engine.
type ResolveResult struct {
	Path      string
	Namespace string
	External  bool
	Error     string
}

// LoadArgs describes one load request from the engine
type LoadArgs struct {
	Path      string
	Namespace string
}

// LoadResult supplies module source to the engine
type LoadResult struct {
	Contents   string
	Loader     paths.Loader
	ResolveDir string
	Found      bool
}

// Plugin is the hook the engine calls for every resolve and load
type Plugin interface {
	Resolve(args ResolveArgs) (ResolveResult, error)
	Load(args LoadArgs) (LoadResult, error)
}

// EngineOptions configures one bundle call
type EngineOptions struct {
	Entry           string
	GlobalName      string
	Target          string
	JSXImportSource string
}

// Artifact is one output file of a bundle call
type Artifact struct {
	Path     string
	Contents []byte
}

// EngineResult is what the engine produced. Errors are formatted messages;
// a non-empty list means the bundle failed.
type EngineResult struct {
	Outputs  []Artifact
	Warnings []string
	Errors   []string
}

// Engine is the external compiler service
type Engine interface {
	Bundle(ctx context.Context, opts EngineOptions, plugin Plugin) (*EngineResult, error)
}
