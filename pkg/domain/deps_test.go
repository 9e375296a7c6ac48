package domain_test

import (
	"testing"

	"cellrex/testutil"
)

func TestDomainHasNoInfraDependencies(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.AnyOf(testutil.InternalImportForbidden, testutil.DriverImportForbidden),
		"domain must stay free of internal packages and drivers")
}
