package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicates(t *testing.T) {
	assert.True(t, InternalImportForbidden("annocore/internal/core"))
	assert.True(t, InternalImportForbidden("example.com/x/internal"))
	assert.False(t, InternalImportForbidden("annocore/pkg/domain"))

	only := ModuleImportsExcept("annocore/pkg/domain")
	assert.False(t, only("annocore/pkg/domain"))
	assert.True(t, only("annocore/pkg/changes"))
	assert.True(t, only("annocore"))
	assert.False(t, only("annocorex/pkg"))
	assert.False(t, only("github.com/cockroachdb/errors"))
	assert.False(t, only("context"))
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600))
	}
	write("a.go", "package p\n\nimport (\n\t\"fmt\"\n\t\"annocore/internal/core\"\n)\n\nvar _ = fmt.Sprint\nvar _ core.Option\n")
	write("b.go", "package p\n\nimport \"annocore/internal/blob\"\n\nvar _ blob.Store\n")
	write("a_test.go", "package p\n\nimport \"annocore/internal/logger\"\n")
	write("notes.txt", "import \"annocore/internal/x\"")

	viols, err := DirectImportViolations(dir, InternalImportForbidden)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"annocore/internal/blob (in b.go)",
		"annocore/internal/core (in a.go)",
	}, viols)

	_, err = DirectImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden)
	assert.Error(t, err)

	write("c.go", "package p\nimport (")
	_, err = DirectImportViolations(dir, InternalImportForbidden)
	assert.Error(t, err)
}

type fatalRecorder struct {
	testing.TB
	msg string
}

func (f *fatalRecorder) Helper() {}

func (f *fatalRecorder) Fatalf(format string, args ...any) {
	f.msg = format
}

func TestAssertNoDirectImports(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package p\n\nimport \"annocore/internal/core\"\n"), 0o600))

	rec := &fatalRecorder{TB: t}
	AssertNoDirectImports(rec, dir, InternalImportForbidden, "layering")
	assert.Contains(t, rec.msg, "forbidden imports")

	rec = &fatalRecorder{TB: t}
	AssertNoDirectImports(rec, dir, ModuleImportsExcept("annocore/internal/core"), "layering")
	assert.Empty(t, rec.msg)
}
