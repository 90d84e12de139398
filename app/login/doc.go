// Package login is the orchestrator exposed to presentation layers.
//
// An App owns one broadcast hub and one supervisor. Login runs a supervised
// login and returns once the run and its child have ended; observers follow
// it through LoginState, LoginSharedFlow, LoginStateFlow, LoginFlow and
// LoginChannel. InfoMessage carries a single terminal message per run which
// the consumer clears with OnClearInfoMessage.
//
// Settings come from LOGIN_* environment variables (see Config) and can be
// replaced with WithConfig:
//
//	app, err := login.NewApp(login.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	defer app.Close()
//
//	if err := app.Login(ctx); err != nil {
//		// unhandled failure or cancelled before start
//	}
//
// With LOGIN_PARALLEL_EMITS set, every Login also starts an independent
// emitter racing the run, so no interleaving of its snapshots is guaranteed.
package login
