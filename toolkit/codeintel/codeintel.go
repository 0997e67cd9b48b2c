// Package codeintel extracts top-level symbol structure from Go source
// files using go/parser and go/ast. No library in the dependency corpus
// performs AST-level symbol extraction, so this stays on the standard
// library by design.
package codeintel

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"

	"github.com/ashgrove-labs/orkestra"
)

// Tool extracts function, type, and method signatures from Go files
// within a sandboxed workspace.
type Tool struct {
	workspacePath string
}

// New creates a codeintel Tool restricted to workspacePath.
func New(workspacePath string) *Tool {
	return &Tool{workspacePath: workspacePath}
}

func (t *Tool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{{
		Name:        "get_code_structure",
		Description: "List top-level declarations (functions, types, methods, constants) in a Go source file.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (orkestra.Output, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orkestra.Output{Text: "error: invalid args: " + err.Error()}, nil
	}
	if strings.Contains(params.Path, "..") || filepath.IsAbs(params.Path) {
		return orkestra.Output{Text: "error: invalid path"}, nil
	}
	if !strings.HasSuffix(params.Path, ".go") {
		return orkestra.Output{Text: "error: get_code_structure only supports .go files"}, nil
	}
	resolved := filepath.Join(t.workspacePath, params.Path)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, resolved, nil, parser.ParseComments)
	if err != nil {
		return orkestra.Output{Text: "error: parse: " + err.Error()}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "package %s\n\n", file.Name.Name)

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			line := fset.Position(d.Pos()).Line
			recv := ""
			if d.Recv != nil && len(d.Recv.List) > 0 {
				recv = "(" + exprString(d.Recv.List[0].Type) + ") "
			}
			fmt.Fprintf(&b, "%d: func %s%s%s\n", line, recv, d.Name.Name, signatureString(d.Type))
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				line := fset.Position(spec.Pos()).Line
				switch s := spec.(type) {
				case *ast.TypeSpec:
					fmt.Fprintf(&b, "%d: type %s %s\n", line, s.Name.Name, kindOf(s.Type))
				case *ast.ValueSpec:
					for _, name := range s.Names {
						if name.Name == "_" {
							continue
						}
						fmt.Fprintf(&b, "%d: %s %s\n", line, d.Tok.String(), name.Name)
					}
				}
			}
		}
	}
	return orkestra.Output{Text: b.String()}, nil
}

func kindOf(expr ast.Expr) string {
	switch expr.(type) {
	case *ast.StructType:
		return "struct"
	case *ast.InterfaceType:
		return "interface"
	default:
		return exprString(expr)
	}
}

func signatureString(ft *ast.FuncType) string {
	var params, results []string
	if ft.Params != nil {
		for _, f := range ft.Params.List {
			t := exprString(f.Type)
			if len(f.Names) == 0 {
				params = append(params, t)
				continue
			}
			for range f.Names {
				params = append(params, t)
			}
		}
	}
	if ft.Results != nil {
		for _, f := range ft.Results.List {
			t := exprString(f.Type)
			if len(f.Names) == 0 {
				results = append(results, t)
				continue
			}
			for range f.Names {
				results = append(results, t)
			}
		}
	}
	sig := "(" + strings.Join(params, ", ") + ")"
	if len(results) == 1 {
		sig += " " + results[0]
	} else if len(results) > 1 {
		sig += " (" + strings.Join(results, ", ") + ")"
	}
	return sig
}

func exprString(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.StarExpr:
		return "*" + exprString(e.X)
	case *ast.SelectorExpr:
		return exprString(e.X) + "." + e.Sel.Name
	case *ast.ArrayType:
		return "[]" + exprString(e.Elt)
	case *ast.MapType:
		return "map[" + exprString(e.Key) + "]" + exprString(e.Value)
	case *ast.Ellipsis:
		return "..." + exprString(e.Elt)
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{}"
	case *ast.ChanType:
		return "chan " + exprString(e.Value)
	default:
		return "?"
	}
}
