// Package api provides the HTTP server exposing agora's authentication
// endpoints.
//
// Every route is registered through Server.Handle together with a
// middleware.RoutePolicy, so each request passes the security pipeline
// (tenant binding, token verification, rate limiting and permission checks)
// before its handler runs.
//
// # Routes
//
//	POST   /auth/login                          email and password login
//	POST   /auth/refresh                        exchange a refresh token
//	POST   /auth/logout                         revoke the stored refresh token
//	GET    /auth/me                             the authenticated principal
//	GET    /auth/permissions/check              ?resource=post&action=read
//	GET    /auth/oauth/{provider}/login         redirect to an identity provider
//	GET    /auth/oauth/{provider}/callback      finish an identity provider login
//
// The permission admin routes of package rbac are mounted with MountRBAC.
//
// # Usage
//
//	server := api.NewServer(api.Config{
//		Auth:     authService,
//		Pipeline: pipeline,
//		Perms:    evaluator,
//		Problems: problems,
//	})
//	server.Handle("/posts", middleware.RoutePolicy{Permission: &postRead}, listPosts, http.MethodGet)
//	http.ListenAndServe(":8080", server.Handler())
//
// The organization a request acts in is taken from the X-Org-Id header, or
// from the access token when the header is absent.
package api
