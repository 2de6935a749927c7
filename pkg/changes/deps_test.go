package changes_test

import (
	"testing"

	"annocore/testutil"
)

func TestChangesDependOnDomainOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportsExcept("annocore/pkg/domain"), "pkg/changes is importable by clients")
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/changes is importable by clients")
}
