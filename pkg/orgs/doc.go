// Package orgs resolves the organizations (tenants) requests are bound to.
//
// The authentication pipeline asks a Directory whether the organization named
// by X-Org-Id or the token's org_id claim exists and is active:
//
//	dir := orgs.NewCachedDirectory(orgs.NewPostgresDirectory(db), 1024, 30*time.Second)
//	org, err := dir.GetOrganization(ctx, 10)
//	if errors.Is(err, orgs.ErrOrganizationNotFound) {
//		// 404 TENANT_NOT_FOUND
//	}
//
// Organizations are created and managed elsewhere; this package only reads.
package orgs
