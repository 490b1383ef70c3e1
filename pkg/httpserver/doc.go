// Package httpserver runs the notifier's HTTP surface with graceful
// shutdown and provides liveness and readiness handlers.
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	err := srv.Run(ctx, router)
//
// Run returns when ctx is done. Shutdown first cancels the base context of
// every in-flight request so realtime streams can finish, then waits for
// handlers up to the shutdown timeout and force-closes what is left.
package httpserver
