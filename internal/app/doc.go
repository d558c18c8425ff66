// Package app assembles pairs-server: the pair identification pipeline, the
// chi router with its middleware chain, and the HTTP server lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration (config.Load)
//  2. Initialize logging and OpenTelemetry
//  3. app.New builds the identifier, the handlers and the router
//  4. Run serves until the context is cancelled
//
// # Usage
//
//	application, err := app.New(cfg, logger, providers)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// When the context passed to Run is cancelled the server reports not ready
// on /readyz, stops accepting connections and waits up to
// server.shutdown_timeout for in-flight identifications to finish.
//
// # Error Handling
//
// Initialization errors are returned to the caller. The package never calls
// os.Exit, so main controls the exit code.
package app
