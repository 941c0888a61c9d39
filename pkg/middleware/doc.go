// Package middleware provides the authentication pipeline every protected
// route runs behind.
//
// # Overview
//
// Pipeline.Protect wraps a handler with the request security states:
//
//	UNRESOLVED -> TENANT_BOUND -> AUTHENTICATED | ANONYMOUS -> RATE_CHECKED -> AUTHORIZED -> HANDLED
//
// The tenant scope installed for the request is cleared on every exit,
// including panics. Failures are written as problem details by the
// httputil.ProblemWriter and never reach the handler.
//
// # Usage
//
//	pipeline := middleware.NewPipeline(codec, authService, evaluator, problems,
//		middleware.WithDirectory(directory),
//		middleware.WithRateLimiter(limiter),
//	)
//
//	perm := rbac.Permission{Resource: rbac.ResourceRole, Action: rbac.ActionRead}
//	router.Handle("/rbac/permissions", pipeline.Protect(middleware.RoutePolicy{
//		Permission: &perm,
//	})(handler))
//
// # Tenant resolution
//
// The tenant comes from the X-Org-Id header, or from the org_id claim of a
// verified bearer token. Malformed ids are rejected with TENANT_001, missing
// ids on tenant-scoped routes with TENANT_002, unknown organizations with
// TENANT_004, and inactive organizations or non-members with TENANT_003.
//
// # Rate limiting
//
// Authenticated requests are counted per user ("user:{id}"), anonymous ones
// per client address ("ip:{addr}"). When the counter store is unreachable the
// request proceeds.
package middleware
