// Package server runs an http.Server with graceful shutdown.
//
//	srv, err := server.NewFromConfig(cfg, server.WithLogger(log))
//	if err != nil {
//		return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, mux))
//	return g.Wait()
//
// Run returns once ctx is cancelled and the server has shut down within
// the configured timeout. Listening on ":0" picks a free port; Addr
// reports it.
package server
