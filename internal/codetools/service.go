// Package codetools provides workspace-confined source inspection and
// strict-count editing for agents: file skeletons, symbol extraction, and
// search/replace. AST-backed operations cover Go files; other files fall
// back to plain text handling.
package codetools

import (
	"go/ast"
	"go/parser"
	"go/token"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
)

type Service struct {
	workspaceRoot string
}

func NewService(workspaceRoot string) *Service {
	return &Service{workspaceRoot: workspaceRoot}
}

// Symbol is one top-level declaration in a file skeleton.
type Symbol struct {
	Kind      string `json:"kind"` // func, method, type
	Name      string `json:"name"`
	Line      int    `json:"line"`
	Signature string `json:"signature,omitempty"`
	Doc       string `json:"doc,omitempty"`
}

// FileSkeleton lists the top-level declarations of a Go file. Non-Go files
// get an empty symbol list and a note.
func (s *Service) FileSkeleton(filePath string) (map[string]any, error) {
	path, err := s.resolvePath(filePath)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) != ".go" {
		language := strings.TrimPrefix(filepath.Ext(path), ".")
		if language == "" {
			language = "text"
		}
		return map[string]any{
			"file_path": filePath,
			"language":  language,
			"symbols":   []Symbol{},
			"note":      "AST skeleton is currently implemented for Go files.",
		}, nil
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, apperrors.Validation("failed to parse file").WithDetails(map[string]any{"error": err.Error()})
	}

	symbols := []Symbol{}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			symbols = append(symbols, Symbol{
				Kind:      funcKind(d),
				Name:      d.Name.Name,
				Line:      fset.Position(d.Pos()).Line,
				Signature: funcSignature(d),
				Doc:       docText(d.Doc),
			})
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				typeSpec, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				doc := docText(typeSpec.Doc)
				if doc == "" {
					doc = docText(d.Doc)
				}
				symbols = append(symbols, Symbol{
					Kind: "type",
					Name: typeSpec.Name.Name,
					Line: fset.Position(typeSpec.Pos()).Line,
					Doc:  doc,
				})
			}
		}
	}
	return map[string]any{"file_path": filePath, "language": "go", "symbols": symbols}, nil
}

// SymbolLogic extracts the full source of a named function, method, or type
// declaration in a Go file.
func (s *Service) SymbolLogic(filePath, symbolName string) (map[string]any, error) {
	path, err := s.resolvePath(filePath)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) != ".go" {
		return nil, apperrors.Validation("symbol_logic currently supports Go files only")
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Internal("failed to read file", err)
	}
	lines := strings.Split(string(source), "\n")

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, source, parser.ParseComments)
	if err != nil {
		return nil, apperrors.Validation("failed to parse file").WithDetails(map[string]any{"error": err.Error()})
	}

	var found ast.Node
	kind := ""
	ast.Inspect(file, func(node ast.Node) bool {
		if found != nil {
			return false
		}
		switch d := node.(type) {
		case *ast.FuncDecl:
			if d.Name.Name == symbolName {
				found = d
				kind = funcKind(d)
				return false
			}
		case *ast.TypeSpec:
			if d.Name.Name == symbolName {
				found = d
				kind = "type"
				return false
			}
		}
		return true
	})
	if found == nil {
		err := apperrors.NotFound("Symbol not found")
		return nil, err.WithDetails(map[string]any{"symbol_name": symbolName})
	}

	start := fset.Position(found.Pos()).Line
	end := fset.Position(found.End()).Line
	if end > len(lines) {
		end = len(lines)
	}
	snippet := strings.Join(lines[start-1:end], "\n")
	return map[string]any{
		"file_path":   filePath,
		"symbol_name": symbolName,
		"kind":        kind,
		"start_line":  start,
		"end_line":    end,
		"source":      snippet,
	}, nil
}

// SearchReplace replaces search with replace in the file, requiring the
// occurrence count to match exactly before touching the file.
func (s *Service) SearchReplace(filePath, search, replace string, expectedCount int) (map[string]any, error) {
	if expectedCount < 1 {
		return nil, apperrors.Validation("expected_count must be >= 1")
	}
	path, err := s.resolvePath(filePath)
	if err != nil {
		return nil, err
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Internal("failed to read file", err)
	}
	matches := strings.Count(string(source), search)
	if matches != expectedCount {
		mismatch := &apperrors.AppError{
			Code:       apperrors.CodeValidationError,
			Message:    "Search/replace strict count mismatch",
			HTTPStatus: http.StatusConflict,
		}
		return nil, mismatch.WithDetails(map[string]any{
			"expected_count": expectedCount,
			"actual_count":   matches,
		})
	}
	updated := strings.Replace(string(source), search, replace, expectedCount)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return nil, apperrors.Internal("failed to write file", err)
	}
	return map[string]any{"file_path": filePath, "replaced_count": expectedCount}, nil
}

// resolvePath confines filePath to the workspace root and requires it to be
// an existing regular file.
func (s *Service) resolvePath(filePath string) (string, error) {
	root, err := filepath.Abs(s.workspaceRoot)
	if err != nil {
		return "", apperrors.Internal("failed to resolve workspace root", err)
	}
	candidate := filePath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if candidate != root && !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
		return "", apperrors.Validation("Path escapes workspace root").WithDetails(map[string]any{
			"workspace_root": root,
			"path":           candidate,
		})
	}
	info, err := os.Stat(candidate)
	if os.IsNotExist(err) {
		return "", apperrors.NotFound("File not found").WithDetails(map[string]any{"path": candidate})
	}
	if err != nil {
		return "", apperrors.Internal("failed to stat file", err)
	}
	if info.IsDir() {
		return "", apperrors.Validation("Expected file path, got directory")
	}
	return candidate, nil
}

func funcKind(d *ast.FuncDecl) string {
	if d.Recv != nil {
		return "method"
	}
	return "func"
}

func funcSignature(d *ast.FuncDecl) string {
	params := []string{}
	if d.Type.Params != nil {
		for _, field := range d.Type.Params.List {
			for _, name := range field.Names {
				params = append(params, name.Name)
			}
			if len(field.Names) == 0 {
				params = append(params, "_")
			}
		}
	}
	return d.Name.Name + "(" + strings.Join(params, ", ") + ")"
}

func docText(group *ast.CommentGroup) string {
	if group == nil {
		return ""
	}
	return strings.TrimSpace(group.Text())
}
