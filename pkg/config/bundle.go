package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"

	"github.com/openfroyo/openfroyo/pkg/manifest"
)

// Resolver computes the per-node variable bundle a push-mode node's
// RunConfiguration receives as its environment prefix (§6): site-wide
// defaults from site.cue, then per-host overrides keyed by node name from
// hosts.cue, then the node's own manifest-level Vars, with an optional
// resolve.star hook given the last word to compute derived values over the
// merged result (e.g. a port number derived from the node's position, or a
// flag toggled by a label).
type Resolver struct {
	dir    string
	parser *CUEParser
}

// NewResolver builds a Resolver that reads site.cue, hosts.cue, and
// resolve.star from dir. A Resolver whose dir holds none of those files
// resolves every node to just its own manifest-level Vars.
func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir, parser: NewCUEParser()}
}

// Resolve computes the variable bundle for node, in increasing precedence:
// site defaults, host overrides, manifest Vars, then the Starlark hook's
// output.
func (r *Resolver) Resolve(ctx context.Context, node manifest.Node) (map[string]string, error) {
	vars := map[string]string{}

	site, err := r.loadLayer("site.cue", cue.Path{})
	if err != nil {
		return nil, fmt.Errorf("loading site defaults: %w", err)
	}
	mergeLayer(vars, site)

	host, err := r.loadLayer("hosts.cue", cue.MakePath(cue.Str(node.Name)))
	if err != nil {
		return nil, fmt.Errorf("loading host overrides for %s: %w", node.Name, err)
	}
	mergeLayer(vars, host)

	for k, v := range node.Vars {
		vars[k] = v
	}

	computed, err := r.runResolveHook(ctx, node, vars)
	if err != nil {
		return nil, fmt.Errorf("running resolve.star for %s: %w", node.Name, err)
	}
	mergeLayer(vars, computed)

	return vars, nil
}

// loadLayer reads file under the resolver's directory and decodes the
// value at path (the zero cue.Path means the document root) into a
// string-keyed map. A missing directory or file yields an empty layer
// rather than an error: not every deployment carries all three documents.
func (r *Resolver) loadLayer(file string, path cue.Path) (map[string]interface{}, error) {
	if r.dir == "" {
		return nil, nil
	}
	full := filepath.Join(r.dir, file)
	if _, err := os.Stat(full); err != nil {
		return nil, nil
	}

	val, errs := r.parser.loadFile(full)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %s", file, errs[0].Message)
	}

	target := val
	if len(path.Selectors()) > 0 {
		target = val.LookupPath(path)
		if !target.Exists() {
			return nil, nil
		}
	}

	var out map[string]interface{}
	if err := target.Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decoding: %w", file, err)
	}
	return out, nil
}

// runResolveHook executes resolve.star, if present, passing the node name
// and the merged vars so far, and returns the string-keyed "vars" entry of
// its output, if it set one.
func (r *Resolver) runResolveHook(ctx context.Context, node manifest.Node, vars map[string]string) (map[string]interface{}, error) {
	path := filepath.Join(r.dir, "resolve.star")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}

	input := map[string]interface{}{
		"node": node.Name,
		"vars": stringMapToAny(vars),
	}
	result, err := r.parser.starlarkEvaluator.Evaluate(ctx, string(content), input)
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("resolve.star: %s", result.Error)
	}

	out, ok := result.Output["vars"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	return out, nil
}

// mergeLayer folds layer into dst, stringifying non-string scalars so the
// result can feed an environment-variable prefix.
func mergeLayer(dst map[string]string, layer map[string]interface{}) {
	for k, v := range layer {
		if s, ok := v.(string); ok {
			dst[k] = s
			continue
		}
		dst[k] = fmt.Sprintf("%v", v)
	}
}

func stringMapToAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
