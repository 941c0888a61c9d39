// Package rbac decides whether a principal may perform an action on a
// resource inside the organization bound to the request.
//
// # Overview
//
// Permissions are data, not code. Each organization owns a table of rows
//
//	(organization, role, resource, action) -> allowed
//
// and a principal is granted a permission when any of its roles has an
// allowing row. A missing row means "not allowed". Role order never matters.
//
// # Evaluating
//
//	evaluator := rbac.NewEvaluator(lookup)
//	ok, err := evaluator.Check(ctx, principal, rbac.ResourcePost, rbac.ActionModerate)
//
// Check reads the tenant from ctx (see pkg/tenant) and reports an IllegalState
// error when none is bound, which means the authentication pipeline did not
// run. A principal issued for another organization is never allowed.
//
// # Lookups
//
// Any Lookup can back the evaluator:
//
//   - SQLStore: role_permissions table in PostgreSQL (RunMigrations creates it)
//   - Table: in-memory table, loaded from YAML and hot reloaded with WatchFile
//   - CachedLookup: expiring LRU in front of another lookup
//
// Permission file format:
//
//	defaults:
//	  member: ["post:create", "post:read"]
//	organizations:
//	  10:
//	    member: ["!post:create"]
//
// # Built-in Roles
//
//	owner      - everything, including role:manage and organization:delete
//	admin      - moderation plus member and role administration
//	moderator  - member permissions plus moderation of posts, comments and threads
//	member     - create and read posts and comments, file reports
//
// BuiltInGrants lists them; SQLStore.SeedDefaults writes them for a new
// organization.
//
// # Administration
//
// Handlers exposes routes to list, grant and revoke rows of the current
// organization. They carry the permission they require and are mounted
// behind the authentication pipeline by pkg/api.
package rbac
