package conversation

import (
	"context"
	"errors"

	"github.com/estudia/material-bot/internal/domain/shared"
	"github.com/estudia/material-bot/pkg/logger"
)

// errorSink is the single place failures are recorded before the turn carries on.
// A failure to record is logged and swallowed.
type errorSink struct {
	store PersistenceStore
	log   *logger.Logger
}

func (s errorSink) logFor(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.log)
}

// user records a failure attributable to a user's request.
func (s errorSink) user(ctx context.Context, userID int64, module string, err error) {
	if err == nil {
		return
	}
	s.logFor(ctx).Warn("user request failed",
		logger.UserID(userID),
		logger.Component(module),
		logger.String("kind", shared.KindOf(err)),
		logger.Err(err),
	)
	if lerr := s.store.LogUserError(ctx, userID, module, err); lerr != nil {
		s.logFor(ctx).Error("failed to persist user error", logger.Component(module), logger.Err(lerr))
	}
}

// internal records a dependency failure.
func (s errorSink) internal(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	s.logFor(ctx).Error("internal failure",
		logger.Component(module),
		logger.String("kind", shared.KindOf(err)),
		logger.Err(err),
	)
	if lerr := s.store.LogInternalError(ctx, module, err); lerr != nil {
		s.logFor(ctx).Error("failed to persist internal error", logger.Component(module), logger.Err(lerr))
	}
}

// transaction records one delivery attempt.
func (s errorSink) transaction(ctx context.Context, userID int64, key string, success bool) {
	if err := s.store.LogTransaction(ctx, userID, key, success); err != nil {
		s.logFor(ctx).Error("failed to persist transaction",
			logger.UserID(userID),
			logger.ObjectKey(key),
			logger.Bool("success", success),
			logger.Err(err),
		)
	}
}

// recordedError marks an error the sink has already persisted.
type recordedError struct{ error }

func (e recordedError) Unwrap() error { return e.error }

func recorded(err error) error { return recordedError{err} }

func isRecorded(err error) bool {
	var r recordedError
	return errors.As(err, &r)
}

// answeredError marks an error whose turn already ended in a prompt to the
// user, such as a retry offer or a re-prompt at the missing selection level.
type answeredError struct{ error }

func (e answeredError) Unwrap() error { return e.error }

func answered(err error) error { return answeredError{err} }

func isAnswered(err error) bool {
	var a answeredError
	return errors.As(err, &a)
}
