// Package history implements the transactional undo/redo log of a document.
//
// A transaction groups every Record captured between Start and Commit into one
// undoable unit. Rollback unwinds the open unit immediately, newest first.
package history

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
)

// Record is one invertible mutation.
type Record interface {
	Undo()
	Redo()
}

// State of the log.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Unit is a committed transaction.
type Unit struct {
	Name    string
	Records []Record
}

func (u *Unit) undo() {
	for i := len(u.Records) - 1; i >= 0; i-- {
		u.Records[i].Undo()
	}
}

func (u *Unit) redo() {
	for _, r := range u.Records {
		r.Redo()
	}
}

// Option configures a Log.
type Option func(*Log)

// WithLimit bounds the undo window. Zero means unbounded.
func WithLimit(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithHooks sets commit/rollback callbacks.
func WithHooks(h domain.Hooks) Option {
	return func(l *Log) {
		l.hooks = h
	}
}

// Log is the per-document transaction and undo/redo log.
// It is not safe for concurrent use.
type Log struct {
	logger *slog.Logger
	hooks  domain.Hooks
	limit  int

	current   *Unit
	undo      []*Unit
	redo      []*Unit
	disabled  bool
	replaying bool
}

// New creates an idle log.
func New(opts ...Option) *Log {
	l := &Log{
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "history")
	return l
}

// State returns Recording while a transaction is open.
func (l *Log) State() State {
	if l.current != nil {
		return Recording
	}
	return Idle
}

// Start opens a transaction.
func (l *Log) Start(name string) error {
	if l.current != nil {
		return fmt.Errorf("start %q: %w", name, domain.ErrTransactionActive)
	}
	l.current = &Unit{Name: name}
	return nil
}

// Record captures r into the open transaction. Outside a transaction, while
// disabled, or while replaying undo/redo it is dropped.
func (l *Log) Record(r Record) {
	if l.current == nil || l.disabled || l.replaying {
		return
	}
	l.current.Records = append(l.current.Records, r)
}

// Commit closes the open transaction and pushes it onto the undo stack.
// Empty transactions are discarded. Any redo history is cleared.
func (l *Log) Commit() error {
	u := l.current
	if u == nil {
		return fmt.Errorf("commit: %w", domain.ErrNoTransaction)
	}
	l.current = nil

	if len(u.Records) == 0 {
		return nil
	}
	l.undo = append(l.undo, u)
	l.redo = nil
	if l.limit > 0 && len(l.undo) > l.limit {
		l.undo = l.undo[len(l.undo)-l.limit:]
	}

	l.logger.Debug("transaction committed", "name", u.Name, "records", len(u.Records))
	if l.hooks.OnCommit != nil {
		l.hooks.OnCommit(&domain.TransactionEvent{
			EventBase: domain.NewBase(domain.EventCommit),
			Name:      u.Name,
			Records:   len(u.Records),
		})
	}
	return nil
}

// Rollback undoes the open transaction immediately, newest record first.
func (l *Log) Rollback() error {
	u := l.current
	if u == nil {
		return fmt.Errorf("rollback: %w", domain.ErrNoTransaction)
	}
	l.current = nil

	l.logger.Info("rolling back transaction", "name", u.Name, "records", len(u.Records))
	l.replay(u.undo)

	if l.hooks.OnRollback != nil {
		l.hooks.OnRollback(&domain.TransactionEvent{
			EventBase: domain.NewBase(domain.EventRollback),
			Name:      u.Name,
			Records:   len(u.Records),
		})
	}
	return nil
}

// Execute runs fn inside a transaction: commit when it returns nil, rollback
// when it returns an error or panics. A panic is re-raised after rollback.
func (l *Log) Execute(name string, fn func() error) (err error) {
	if err := l.Start(name); err != nil {
		return err
	}

	done := false
	defer func() {
		if done {
			return
		}
		r := recover()
		if rbErr := l.Rollback(); rbErr != nil {
			l.logger.Error("rollback after panic failed", "name", name, "err", rbErr)
		}
		panic(r)
	}()

	fnErr := fn()
	done = true

	if fnErr != nil {
		if rbErr := l.Rollback(); rbErr != nil {
			return fmt.Errorf("%s: %w (rollback: %v)", name, fnErr, rbErr)
		}
		return fnErr
	}
	return l.Commit()
}

// Undo reverts the most recent committed unit. It returns false when there is nothing to undo.
func (l *Log) Undo() bool {
	if len(l.undo) == 0 || l.current != nil {
		return false
	}
	u := l.undo[len(l.undo)-1]
	l.undo = l.undo[:len(l.undo)-1]
	l.replay(u.undo)
	l.redo = append(l.redo, u)
	return true
}

// Redo re-applies the most recently undone unit.
func (l *Log) Redo() bool {
	if len(l.redo) == 0 || l.current != nil {
		return false
	}
	u := l.redo[len(l.redo)-1]
	l.redo = l.redo[:len(l.redo)-1]
	l.replay(u.redo)
	l.undo = append(l.undo, u)
	return true
}

// CanUndo reports whether Undo would do something.
func (l *Log) CanUndo() bool { return len(l.undo) > 0 && l.current == nil }

// CanRedo reports whether Redo would do something.
func (l *Log) CanRedo() bool { return len(l.redo) > 0 && l.current == nil }

// Len returns the sizes of the undo and redo stacks.
func (l *Log) Len() (undo, redo int) { return len(l.undo), len(l.redo) }

// Disabled reports whether recording is suppressed.
func (l *Log) Disabled() bool { return l.disabled }

// SetDisabled sets the flag and returns the previous value, which callers must restore.
func (l *Log) SetDisabled(v bool) (previous bool) {
	previous = l.disabled
	l.disabled = v
	return previous
}

// WithoutRecording runs fn with recording suppressed and restores the previous flag.
func (l *Log) WithoutRecording(fn func()) {
	prev := l.SetDisabled(true)
	defer l.SetDisabled(prev)
	fn()
}

func (l *Log) replay(fn func()) {
	prev := l.replaying
	l.replaying = true
	defer func() { l.replaying = prev }()
	fn()
}
