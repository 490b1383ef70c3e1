// Package logger builds the *slog.Logger used across the notifier and
// provides attribute helpers so every component names the same things the
// same way (user_id, notification_id, channel, endpoint...).
//
// New applies functional options (format, level, static attributes, context
// extractors) and wraps the chosen slog.Handler with a decorator that pulls
// request-scoped values out of context.Context on every record.
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "notifierd"),
//	    logger.WithContextValue("request_id", requestIDKey{}),
//	)
//	logger.SetAsDefault(log)
//
//	log.WarnContext(ctx, "push delivery failed",
//	    logger.UserID(n.UserID),
//	    logger.NotificationID(n.ID),
//	    logger.Channel("push"),
//	    logger.Error(err),
//	)
//
// Helpers that take an error or an any-typed identifier return an empty
// slog.Attr for nil values, which slog drops, so call sites need no nil checks.
package logger
