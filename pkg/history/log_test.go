package history

import (
	"errors"
	"testing"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cell is a tiny mutable value that records itself into a log on every write.
type cell struct {
	log   *Log
	value int
	trace *[]string
}

type cellRecord struct {
	c        *cell
	old, new int
}

func (r cellRecord) Undo() { r.c.write(r.old) }
func (r cellRecord) Redo() { r.c.write(r.new) }

func (c *cell) write(v int) {
	if c.value == v {
		return
	}
	old := c.value
	c.value = v
	if c.trace != nil {
		*c.trace = append(*c.trace, "set")
	}
	c.log.Record(cellRecord{c: c, old: old, new: v})
}

func TestLog_CommitUndoRedo(t *testing.T) {
	l := New()
	c := &cell{log: l}

	require.NoError(t, l.Start("edit"))
	assert.Equal(t, Recording, l.State())
	c.write(1)
	c.write(2)
	require.NoError(t, l.Commit())
	assert.Equal(t, Idle, l.State())

	undo, redo := l.Len()
	assert.Equal(t, 1, undo)
	assert.Equal(t, 0, redo)

	assert.True(t, l.Undo())
	assert.Equal(t, 0, c.value)
	assert.True(t, l.CanRedo())

	assert.True(t, l.Redo())
	assert.Equal(t, 2, c.value)

	assert.True(t, l.Undo())
	assert.False(t, l.Undo())
}

func TestLog_CommitClearsRedo(t *testing.T) {
	l := New()
	c := &cell{log: l}

	require.NoError(t, l.Execute("a", func() error { c.write(1); return nil }))
	require.True(t, l.Undo())
	require.True(t, l.CanRedo())

	require.NoError(t, l.Execute("b", func() error { c.write(5); return nil }))
	assert.False(t, l.CanRedo())
	assert.False(t, l.Redo())
}

func TestLog_EmptyCommitIsDiscarded(t *testing.T) {
	l := New()
	require.NoError(t, l.Start("noop"))
	require.NoError(t, l.Commit())
	assert.False(t, l.CanUndo())
}

func TestLog_Rollback(t *testing.T) {
	l := New()
	var trace []string
	a := &cell{log: l, value: 10, trace: &trace}
	b := &cell{log: l, value: 20, trace: &trace}

	require.NoError(t, l.Start("edit"))
	a.write(11)
	b.write(21)
	a.write(12)
	require.NoError(t, l.Rollback())

	assert.Equal(t, 10, a.value)
	assert.Equal(t, 20, b.value)
	assert.False(t, l.CanUndo(), "rolled back work never reaches the undo stack")
	assert.Len(t, trace, 6)
}

func TestLog_ProgrammerErrors(t *testing.T) {
	l := New()

	assert.ErrorIs(t, l.Commit(), domain.ErrNoTransaction)
	assert.ErrorIs(t, l.Rollback(), domain.ErrNoTransaction)

	require.NoError(t, l.Start("a"))
	assert.ErrorIs(t, l.Start("b"), domain.ErrTransactionActive)
}

func TestLog_Execute(t *testing.T) {
	t.Run("error rolls back", func(t *testing.T) {
		l := New()
		c := &cell{log: l}
		boom := errors.New("boom")

		err := l.Execute("edit", func() error {
			c.write(3)
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, c.value)
		assert.Equal(t, Idle, l.State())
	})

	t.Run("panic rolls back and re-panics", func(t *testing.T) {
		l := New()
		c := &cell{log: l}

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = l.Execute("edit", func() error {
				c.write(3)
				panic("kaboom")
			})
		})
		assert.Equal(t, 0, c.value)
		assert.Equal(t, Idle, l.State())
	})
}

func TestLog_Disabled(t *testing.T) {
	l := New()
	c := &cell{log: l}

	require.NoError(t, l.Start("edit"))
	l.WithoutRecording(func() {
		c.write(1)
		// nested scope restores the previous (true) value, not false
		l.WithoutRecording(func() { c.write(2) })
		assert.True(t, l.Disabled())
	})
	assert.False(t, l.Disabled())
	c.write(3)
	require.NoError(t, l.Commit())

	require.True(t, l.Undo())
	assert.Equal(t, 2, c.value, "only the recorded write is undone")
}

func TestLog_Limit(t *testing.T) {
	l := New(WithLimit(2))
	c := &cell{log: l}

	for i := 1; i <= 3; i++ {
		require.NoError(t, l.Execute("step", func() error { c.write(i); return nil }))
	}

	undo, _ := l.Len()
	assert.Equal(t, 2, undo)
	assert.True(t, l.Undo())
	assert.True(t, l.Undo())
	assert.False(t, l.Undo())
	assert.Equal(t, 1, c.value)
}

func TestLog_Hooks(t *testing.T) {
	var commits, rollbacks []*domain.TransactionEvent
	l := New(WithHooks(domain.Hooks{
		OnCommit:   func(e *domain.TransactionEvent) { commits = append(commits, e) },
		OnRollback: func(e *domain.TransactionEvent) { rollbacks = append(rollbacks, e) },
	}))
	c := &cell{log: l}

	require.NoError(t, l.Execute("ok", func() error { c.write(1); return nil }))
	_ = l.Execute("fail", func() error { c.write(2); return errors.New("x") })

	require.Len(t, commits, 1)
	assert.Equal(t, "ok", commits[0].Name)
	assert.Equal(t, 1, commits[0].Records)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, domain.EventRollback, rollbacks[0].Type)
}
