package bundler

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/vvanghelue/surfpack/internal/shared/paths"
)

// DefaultTarget is the language level emitted when none is configured
const DefaultTarget = "es2020"

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

var loaders = map[paths.Loader]api.Loader{
	paths.LoaderTSX:  api.LoaderTSX,
	paths.LoaderTS:   api.LoaderTS,
	paths.LoaderJSX:  api.LoaderJSX,
	paths.LoaderJS:   api.LoaderJS,
	paths.LoaderJSON: api.LoaderJSON,
	paths.LoaderCSS:  api.LoaderCSS,
	paths.LoaderText: api.LoaderText,
}

// ParseTarget maps a target name onto the engine constant
func ParseTarget(name string) (api.Target, error) {
	if name == "" {
		name = DefaultTarget
	}
	t, ok := targets[strings.ToLower(name)]
	if !ok {
		return api.DefaultTarget, fmt.Errorf("unknown build target %q", name)
	}
	return t, nil
}

// Esbuild is the Engine backed by esbuild's Go API
type Esbuild struct{}

// NewEsbuild creates the esbuild engine
func NewEsbuild() *Esbuild {
	return &Esbuild{}
}

// Bundle runs one in-memory build. Output is an IIFE assigning the entry's
// exports to opts.GlobalName, with an inline source map.
func (e *Esbuild) Bundle(ctx context.Context, opts EngineOptions, plugin Plugin) (*EngineResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := ParseTarget(opts.Target)
	if err != nil {
		return nil, err
	}
	jsxSource := opts.JSXImportSource
	if jsxSource == "" {
		jsxSource = "react"
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:     []string{opts.Entry},
		Bundle:          true,
		Write:           false,
		Format:          api.FormatIIFE,
		GlobalName:      opts.GlobalName,
		Platform:        api.PlatformBrowser,
		Target:          target,
		JSX:             api.JSXAutomatic,
		JSXImportSource: jsxSource,
		Sourcemap:       api.SourceMapInline,
		LogLevel:        api.LogLevelSilent,
		Outdir:          "/",
		AssetNames:      "[name]",
		Plugins:         []api.Plugin{adaptPlugin(plugin)},
	})

	out := &EngineResult{
		Warnings: formatMessages(result.Warnings, api.WarningMessage),
		Errors:   formatMessages(result.Errors, api.ErrorMessage),
	}
	for _, f := range result.OutputFiles {
		out.Outputs = append(out.Outputs, Artifact{Path: f.Path, Contents: f.Contents})
	}
	return out, nil
}

func formatMessages(msgs []api.Message, kind api.MessageKind) []string {
	if len(msgs) == 0 {
		return nil
	}
	formatted := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: kind})
	for i, m := range formatted {
		formatted[i] = strings.TrimSpace(m)
	}
	return formatted
}

// adaptPlugin exposes a Plugin through esbuild's callback surface
func adaptPlugin(p Plugin) api.Plugin {
	return api.Plugin{
		Name: "surfpack-virtual",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				kind := ResolveImport
				if args.Kind == api.ResolveEntryPoint {
					kind = ResolveEntryPoint
				}
				res, err := p.Resolve(ResolveArgs{
					Path:      args.Path,
					Importer:  args.Importer,
					Namespace: args.Namespace,
					Kind:      kind,
				})
				if err != nil {
					return api.OnResolveResult{}, err
				}
				if res.Error != "" {
					return api.OnResolveResult{Errors: []api.Message{{Text: res.Error}}}, nil
				}
				return api.OnResolveResult{
					Path:      res.Path,
					Namespace: res.Namespace,
					External:  res.External,
				}, nil
			})

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: VirtualNamespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				res, err := p.Load(LoadArgs{Path: args.Path, Namespace: args.Namespace})
				if err != nil {
					return api.OnLoadResult{}, err
				}
				if !res.Found {
					return api.OnLoadResult{}, nil
				}
				loader, ok := loaders[res.Loader]
				if !ok {
					loader = api.LoaderJS
				}
				contents := res.Contents
				return api.OnLoadResult{
					Contents:   &contents,
					Loader:     loader,
					ResolveDir: res.ResolveDir,
				}, nil
			})
		},
	}
}

// TransformCommonJS converts one ES module to CommonJS so it can be
// evaluated behind a require() shim. sourceName labels stack frames.
func TransformCommonJS(code, sourceName, target string) (string, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return "", err
	}
	result := api.Transform(code, api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatCommonJS,
		Target:     t,
		Sourcefile: sourceName,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msgs := formatMessages(result.Errors, api.ErrorMessage)
		return "", &CompilationError{Message: fmt.Sprintf("transform %s: %s", sourceName, strings.Join(msgs, "\n")), Errors: msgs}
	}
	return string(result.Code), nil
}
