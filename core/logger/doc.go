// Package logger provides structured logging built on log/slog.
//
// # Basic Usage
//
//	log := logger.New(
//		logger.WithDevelopment("loginflow"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
//	log.Info("run finished",
//		logger.Component("supervisor"),
//		logger.RunID(runID),
//		logger.Result("handled"),
//		logger.Duration(time.Since(start)),
//	)
//
// WithDevelopment selects text output at debug level, WithProduction JSON at
// info level. WithLevel, WithOutput, WithAttr and WithJSONFormatter adjust
// either preset when passed after it. SetAsDefault installs the result as
// the slog default.
//
// # Context Attributes
//
// Extractors add attributes from the context of every *Context call:
//
//	log := logger.New(logger.WithContextExtractors(logger.RunIDExtractor))
//	ctx = logger.WithRunID(ctx, runID)
//	log.InfoContext(ctx, "child spawned") // carries run_id
//
// # Attribute Helpers
//
// Helpers return an empty Attr for absent values, so they can be passed
// without nil checks:
//
//	log.Warn("publish failed", logger.Error(err), logger.Channel("queue"))
//	log.Debug("checkpoint", logger.Checkpoint("delay:running"), logger.Phase("running"))
//	log.Debug("transition", logger.Transition("spawn", "parent_started", "child_spawned"))
//	log.Info("snapshot", logger.Snapshot(state))
//
// Components that accept a logger default to Discard.
package logger
