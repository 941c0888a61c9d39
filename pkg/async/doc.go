// Package async runs side effects off the request path.
//
// SafeGo starts a goroutine with a timeout and panic recovery. Failures are
// logged through the logger carried by the context and never reach the
// caller:
//
//	async.SafeGo(tenant.Detach(r.Context()), async.DefaultTimeout, "record login", func(ctx context.Context) error {
//		return users.RecordLogin(ctx, userID)
//	})
//
// Pass a context produced by tenant.Detach when the task must keep the
// request's organization after the request has finished.
package async
