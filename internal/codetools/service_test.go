package codetools

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
)

const sampleGoFile = `package sample

// Greeter says hello.
type Greeter struct {
	name string
}

// Greet returns the greeting.
func (g *Greeter) Greet() string {
	return "hello " + g.name
}

func add(a, b int) int {
	return a + b
}
`

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "sample.go"), []byte(sampleGoFile), 0o644))
	return NewService(root), root
}

func TestFileSkeleton(t *testing.T) {
	svc, _ := newTestService(t)

	skeleton, err := svc.FileSkeleton("sample.go")
	require.NoError(t, err)
	assert.Equal(t, "go", skeleton["language"])

	symbols, ok := skeleton["symbols"].([]Symbol)
	require.True(t, ok)
	require.Len(t, symbols, 3)
	assert.Equal(t, "type", symbols[0].Kind)
	assert.Equal(t, "Greeter", symbols[0].Name)
	assert.Equal(t, "Greeter says hello.", symbols[0].Doc)
	assert.Equal(t, "method", symbols[1].Kind)
	assert.Equal(t, "Greet()", symbols[1].Signature)
	assert.Equal(t, "func", symbols[2].Kind)
	assert.Equal(t, "add(a, b)", symbols[2].Signature)
}

func TestFileSkeletonNonGoFile(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("# notes"), 0o644))

	skeleton, err := svc.FileSkeleton("notes.md")
	require.NoError(t, err)
	assert.Equal(t, "md", skeleton["language"])
	assert.Empty(t, skeleton["symbols"])
	assert.NotEmpty(t, skeleton["note"])
}

func TestSymbolLogic(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.SymbolLogic("sample.go", "Greet")
	require.NoError(t, err)
	assert.Equal(t, "method", result["kind"])
	assert.Contains(t, result["source"], `return "hello " + g.name`)

	_, err = svc.SymbolLogic("sample.go", "Missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestSearchReplace(t *testing.T) {
	svc, root := newTestService(t)

	result, err := svc.SearchReplace("sample.go", "hello", "howdy", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result["replaced_count"])

	updated, err := os.ReadFile(filepath.Join(root, "sample.go"))
	require.NoError(t, err)
	assert.Contains(t, string(updated), `"howdy " + g.name`)
}

func TestSearchReplaceCountMismatch(t *testing.T) {
	svc, root := newTestService(t)

	_, err := svc.SearchReplace("sample.go", "name", "ident", 1)
	require.Error(t, err)

	appErr := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeValidationError, appErr.Code)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	assert.Equal(t, 1, appErr.Details["expected_count"])
	assert.Equal(t, 3, appErr.Details["actual_count"])

	// The file was left untouched.
	unchanged, err := os.ReadFile(filepath.Join(root, "sample.go"))
	require.NoError(t, err)
	assert.Equal(t, sampleGoFile, string(unchanged))
}

func TestPathConfinement(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.FileSkeleton("../outside.go")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationError))

	_, err = svc.FileSkeleton("missing.go")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}
