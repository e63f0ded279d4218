package rewrite

import (
	"context"
	"errors"
	"fmt"

	apperrors "cmsg/internal/errors"
	"cmsg/internal/object"
	"cmsg/internal/store"

	"go.uber.org/zap"
)

// Updater moves the head reference with a single compare-and-swap.
type Updater struct {
	refs   store.RefStore
	logger *zap.Logger
}

func NewUpdater(refs store.RefStore, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{refs: refs, logger: logger}
}

// Commit points head's reference at newTip if it still holds oldTip. It
// never retries: a concurrent change is reported to the caller.
func (u *Updater) Commit(ctx context.Context, head object.Head, oldTip, newTip object.ID) error {
	name := head.RefName()

	err := u.refs.CompareAndSwap(ctx, name, oldTip, newTip)
	if errors.Is(err, store.ErrStaleRef) {
		u.logger.Warn("reference moved during rewrite",
			zap.String("ref", name),
			zap.String("expected", oldTip.String()))
		return apperrors.ConcurrentRefUpdate(name, err)
	}
	if err != nil {
		return fmt.Errorf("updating %s: %w", name, err)
	}

	u.logger.Info("reference updated",
		zap.String("ref", name),
		zap.String("old", oldTip.String()),
		zap.String("new", newTip.String()))
	return nil
}
