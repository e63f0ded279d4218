// Package reword runs one message edit from start to finish.
package reword

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "cmsg/internal/errors"
	"cmsg/internal/history"
	"cmsg/internal/message"
	"cmsg/internal/object"
	"cmsg/internal/rewrite"
	"cmsg/internal/store"
	"cmsg/internal/store/memory"
	"cmsg/internal/workspace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is a step of an operation.
type State string

const (
	StateIdle             State = "Idle"
	StateValidating       State = "Validating"
	StateAcquiringMessage State = "AcquiringMessage"
	StateRewriting        State = "Rewriting"
	StateCommitting       State = "Committing"
	StateDone             State = "Done"
	StateAborted          State = "Aborted"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Watcher reports whether the head reference may have moved.
type Watcher interface {
	Fired() bool
	Close() error
}

// Config wires an operation to a repository.
type Config struct {
	Objects store.ObjectStore
	Refs    store.RefStore
	Guard   workspace.Guard
	// Committer returns the editing user's signature at the given time.
	Committer func(now time.Time) (object.Signature, error)
	// Watch is optional.
	Watch func(head object.Head) (Watcher, error)
	// Now defaults to time.Now.
	Now     func() time.Time
	MaxWalk int
	Logger  *zap.Logger
}

// Request names the commit to edit and where its new message comes from.
type Request struct {
	// Revision defaults to HEAD.
	Revision string
	Message  message.Source
	// DryRun computes the rewrite in memory and leaves the repository alone.
	DryRun bool
}

// Outcome reports what an operation did, including how far it got when it
// aborted.
type Outcome struct {
	ID         string
	State      State
	Reason     string
	DryRun     bool
	Head       object.Head
	Target     object.ID
	OldTip     object.ID
	NewTip     object.ID
	NewTarget  object.ID
	Mapping    map[object.ID]object.ID
	Created    []object.ID
	OldMessage string
	NewMessage string
}

// Operation is the state machine for a single edit. It is not reusable.
type Operation struct {
	cfg         Config
	id          string
	state       State
	transitions []State
	logger      *zap.Logger
}

func New(cfg Config) *Operation {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	id := uuid.NewString()
	return &Operation{
		cfg:         cfg,
		id:          id,
		state:       StateIdle,
		transitions: []State{StateIdle},
		logger:      cfg.Logger.With(zap.String("operation", id)),
	}
}

func (o *Operation) ID() string { return o.id }

func (o *Operation) State() State { return o.state }

// Transitions lists every state the operation has been in, in order.
func (o *Operation) Transitions() []State {
	return append([]State(nil), o.transitions...)
}

func (o *Operation) enter(s State) {
	o.logger.Debug("state transition", zap.String("from", string(o.state)), zap.String("to", string(s)))
	o.state = s
	o.transitions = append(o.transitions, s)
}

func (o *Operation) abort(out *Outcome, err error) (*Outcome, error) {
	o.logger.Info("edit aborted",
		zap.String("state", string(o.state)),
		zap.Error(err))
	o.enter(StateAborted)
	out.State = StateAborted
	out.Reason = err.Error()
	return out, err
}

// Run performs the edit. The head reference changes only if the returned
// outcome is Done and not a dry run.
func (o *Operation) Run(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{ID: o.id, DryRun: req.DryRun}
	if o.state != StateIdle {
		return out, fmt.Errorf("operation %s already ran", o.id)
	}
	if req.Message == nil {
		return out, fmt.Errorf("no message source")
	}

	// Validating
	o.enter(StateValidating)
	status, err := o.cfg.Guard.Check(ctx)
	if err != nil {
		return o.abort(out, fmt.Errorf("checking working tree: %w", err))
	}
	if err := status.Err(); err != nil {
		return o.abort(out, err)
	}

	reader := history.NewReader(o.cfg.Objects, o.cfg.Refs, o.logger)
	reader.MaxWalk = o.cfg.MaxWalk

	head, err := reader.CurrentHead(ctx)
	if err != nil {
		if errors.Is(err, store.ErrRefNotFound) {
			return o.abort(out, apperrors.UnresolvableRevision(object.HeadRef, err))
		}
		return o.abort(out, err)
	}
	out.Head = head
	out.OldTip = head.Tip

	target, err := reader.Resolve(ctx, req.Revision)
	if err != nil {
		return o.abort(out, err)
	}
	out.Target = target.ID
	out.OldMessage = target.Message

	chain, err := reader.AncestryChain(ctx, target.ID, head.Tip)
	if err != nil {
		return o.abort(out, err)
	}

	committer, err := o.cfg.Committer(o.cfg.Now())
	if err != nil {
		return o.abort(out, apperrors.Internal("resolving committer identity", err))
	}

	var watcher Watcher
	if o.cfg.Watch != nil && !req.DryRun {
		watcher, err = o.cfg.Watch(head)
		if err != nil {
			o.logger.Warn("reference watcher unavailable", zap.Error(err))
			watcher = nil
		} else {
			defer watcher.Close()
		}
	}

	// AcquiringMessage
	o.enter(StateAcquiringMessage)
	msg, err := req.Message.Acquire(ctx, target)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrorTypeCancelled) && ctx.Err() != nil {
			err = apperrors.Cancelled(ctx.Err().Error())
		}
		return o.abort(out, err)
	}
	out.NewMessage = msg

	if watcher != nil && watcher.Fired() {
		current, err := o.cfg.Refs.Read(ctx, head.RefName())
		if err != nil && !errors.Is(err, store.ErrRefNotFound) {
			return o.abort(out, err)
		}
		if current != head.Tip {
			return o.abort(out, apperrors.ConcurrentRefUpdate(head.RefName(),
				fmt.Errorf("moved from %s to %s while the message was edited", head.Tip.Short(), current.Short())))
		}
		o.logger.Debug("reference touched but unchanged", zap.String("ref", head.RefName()))
	}

	// Rewriting
	o.enter(StateRewriting)
	objects := o.cfg.Objects
	if req.DryRun {
		objects = memory.NewOverlay(o.cfg.Objects)
	}
	committer.When = o.cfg.Now()
	res, err := rewrite.NewEngine(objects, o.logger).Rewrite(ctx, rewrite.Input{
		Chain:     chain,
		Message:   msg,
		Committer: committer,
	})
	if err != nil {
		return o.abort(out, err)
	}
	out.NewTip = res.NewTip
	out.NewTarget = res.Mapping[res.Target]
	out.Mapping = res.Mapping
	out.Created = res.Created

	if req.DryRun {
		o.enter(StateDone)
		out.State = StateDone
		o.logger.Info("dry run complete",
			zap.String("target", target.ID.String()),
			zap.String("new_tip", res.NewTip.String()))
		return out, nil
	}

	// Committing
	o.enter(StateCommitting)
	if err := rewrite.NewUpdater(o.cfg.Refs, o.logger).Commit(ctx, head, res.OldTip, res.NewTip); err != nil {
		return o.abort(out, err)
	}

	o.enter(StateDone)
	out.State = StateDone
	o.logger.Info("edited commit",
		zap.String("target", target.ID.String()),
		zap.String("new_target", out.NewTarget.String()),
		zap.String("ref", head.RefName()),
		zap.Int("rewritten", len(res.Created)))
	return out, nil
}
