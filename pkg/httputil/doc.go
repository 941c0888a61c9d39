// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// Every security failure leaves the service as an RFC 7807 problem detail
// carrying a stable machine code:
//
//	problems := httputil.NewProblemWriter("https://api.example.com", false)
//	problems.Write(w, r, apperrors.ExpiredToken(err))
//
// produces
//
//	{
//	  "type": "https://api.example.com/errors/expired-token",
//	  "title": "EXPIRED_TOKEN",
//	  "status": 401,
//	  "detail": "token expired",
//	  "instance": "/auth/refresh",
//	  "timestamp": "2026-03-01T12:00:00Z",
//	  "traceId": "5d0c...",
//	  "code": "AUTH_002"
//	}
//
// Errors outside the apperrors taxonomy are reported as INTERNAL_ERROR without
// their message.
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(problems),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication pipeline
package httputil
