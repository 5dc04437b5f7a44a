package auth

import "testing"

func TestCatalogCarriesAllResourceFamilies(t *testing.T) {
	// ADMIN resolves to the catalog, so any key left out of it is a
	// permission nobody can hold.
	for _, key := range []string{
		PermUnitUpdateAny, PermUnitDeleteAny,
		PermSubmissionPublish, PermSubmissionDownload,
		PermConferenceRead, PermConferenceDelete,
		PermSkillsRead, PermSkillsUpdate,
		PermAutomationsRead, PermNotificationsRead,
		PermBranchesRead, PermUserTypesRead,
		PermCertTemplateUpdate, PermCertIssueCreate, PermCertViewOwn,
	} {
		if !InCatalog(key) {
			t.Fatalf("%s missing from catalog", key)
		}
	}
}

func TestDefaultMatrixStaysWithinCatalog(t *testing.T) {
	for role, perms := range DefaultRolePermissions {
		for _, p := range perms {
			if !InCatalog(p) {
				t.Fatalf("role %s grants unknown permission %s", role, p)
			}
		}
	}
}

func TestCatalogHasNoDuplicates(t *testing.T) {
	seen := make(map[string]bool, len(catalog))
	for _, p := range catalog {
		if seen[p] {
			t.Fatalf("duplicate catalog entry %s", p)
		}
		seen[p] = true
	}
}
