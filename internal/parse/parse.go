// Package parse is the HCL front-end: it turns runbook files into raw
// constructs whose input attributes stay as unevaluated expressions for the
// graph builder and evaluator.
package parse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/txtx/runbook/internal/ctxlog"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// Extension is the runbook file extension discovered by directory walks.
const Extension = ".tx"

type variableBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

type signerBlock struct {
	Name        string   `hcl:"name,label"`
	CommandType string   `hcl:"command_type,label"`
	Body        hcl.Body `hcl:",remain"`
}

type actionBlock struct {
	Name        string   `hcl:"name,label"`
	CommandType string   `hcl:"command_type,label"`
	Body        hcl.Body `hcl:",remain"`
}

type outputBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// fileRoot decodes every construct block a runbook file may carry.
type fileRoot struct {
	Variables []*variableBlock `hcl:"variable,block"`
	Signers   []*signerBlock   `hcl:"signer,block"`
	Actions   []*actionBlock   `hcl:"action,block"`
	Outputs   []*outputBlock   `hcl:"output,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

// Loader parses runbook files into constructs.
type Loader struct{}

// NewLoader creates a runbook file loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every runbook file reachable from the given paths and returns
// the merged construct list. Directories are walked for *.tx files;
// duplicate construct addresses across files are an error.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]*runbook.Construct, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := l.findRunbookFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered runbook files.", "count", len(files))

	parser := hclparse.NewParser()
	var constructs []*runbook.Construct
	seen := make(map[runbook.ConstructID]string)

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse runbook file %s: %w", file, diags)
		}
		parsed, err := l.decodeFile(hclFile.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode runbook file %s: %w", file, err)
		}
		for _, c := range parsed {
			if prev, dup := seen[c.ID]; dup {
				return nil, fmt.Errorf("duplicate construct %s in %s (first declared in %s)", c.ID, file, prev)
			}
			seen[c.ID] = file
			constructs = append(constructs, c)
		}
	}

	logger.Debug("Runbook loading complete.", "constructs", len(constructs))
	return constructs, nil
}

// ParseSource parses a single in-memory runbook source, typically for tests
// and stdin-fed checks. filename only labels diagnostics.
func (l *Loader) ParseSource(src []byte, filename string) ([]*runbook.Construct, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}
	return l.decodeFile(hclFile.Body)
}

func (l *Loader) decodeFile(body hcl.Body) ([]*runbook.Construct, error) {
	var root fileRoot
	diags := gohcl.DecodeBody(body, nil, &root)
	if diags.HasErrors() {
		return nil, diags
	}

	var out []*runbook.Construct
	for _, b := range root.Variables {
		c, err := l.translateBlock(runbook.KindVariable, b.Name, "", b.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	for _, b := range root.Signers {
		c, err := l.translateBlock(runbook.KindSigner, b.Name, b.CommandType, b.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	for _, b := range root.Actions {
		c, err := l.translateBlock(runbook.KindAction, b.Name, b.CommandType, b.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	for _, b := range root.Outputs {
		c, err := l.translateBlock(runbook.KindOutput, b.Name, "", b.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// translateBlock converts a block body into a construct: every attribute
// becomes an input expression, except depends_on which is lifted into
// explicit dependency addresses.
func (l *Loader) translateBlock(kind runbook.ConstructKind, name, commandType string, body hcl.Body) (*runbook.Construct, error) {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s %q: %w", kind, name, diags)
	}

	inputs := make(map[string]hcl.Expression, len(attrs))
	var dependsOn []string
	for attrName, attr := range attrs {
		if attrName == "depends_on" {
			deps, err := decodeDependsOn(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("%s %q: %w", kind, name, err)
			}
			dependsOn = deps
			continue
		}
		inputs[attrName] = attr.Expr
	}

	return runbook.NewConstruct(kind, name, commandType, inputs, dependsOn), nil
}

// decodeDependsOn accepts a list of construct references, either bare
// traversals (action.fund) or string literals ("action.fund").
func decodeDependsOn(expr hcl.Expression) ([]string, error) {
	exprs, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, fmt.Errorf("depends_on must be a list of construct references: %w", diags)
	}

	var out []string
	for _, e := range exprs {
		if traversal, diags := hcl.AbsTraversalForExpr(e); !diags.HasErrors() {
			addr, err := traversalAddress(traversal)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
			continue
		}
		v, diags := e.Value(nil)
		if diags.HasErrors() || !v.IsKnown() || v.IsNull() || v.Type() != cty.String {
			return nil, fmt.Errorf("depends_on entries must be construct references")
		}
		out = append(out, v.AsString())
	}
	return out, nil
}

func traversalAddress(traversal hcl.Traversal) (string, error) {
	if len(traversal) < 2 {
		return "", fmt.Errorf("depends_on reference %q lacks a construct name", traversal.RootName())
	}
	if _, ok := runbook.ParseKind(traversal.RootName()); !ok {
		return "", fmt.Errorf("depends_on reference root %q is not a construct kind", traversal.RootName())
	}
	attr, ok := traversal[1].(hcl.TraverseAttr)
	if !ok {
		return "", fmt.Errorf("depends_on reference under %q must use attribute access", traversal.RootName())
	}
	return traversal.RootName() + "." + attr.Name, nil
}

// findRunbookFiles walks all given paths and returns a flat list of runbook
// files, deduplicated and in walk order.
func (l *Loader) findRunbookFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, dup := seen[p]; !dup {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(p) == Extension {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return allFiles, nil
}
