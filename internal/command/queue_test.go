package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energymon-server/energymon-server/internal/models"
)

func TestEnqueueAssignsIdentity(t *testing.T) {
	q := NewQueue()

	cmd := q.Enqueue("meter-001", "set_interval", models.Variables{"seconds": float64(30)})
	require.NotEmpty(t, cmd.CommandID)
	assert.Equal(t, "meter-001", cmd.DeviceID)
	assert.Equal(t, models.CommandStatusPending, cmd.Status)
	assert.False(t, cmd.QueuedAt.IsZero())
	assert.Nil(t, cmd.SentAt)

	other := q.Enqueue("meter-001", "reboot", nil)
	assert.NotEqual(t, cmd.CommandID, other.CommandID)
}

func TestPollFIFOAtMostOnce(t *testing.T) {
	q := NewQueue()

	first := q.Enqueue("meter-001", "set_interval", nil)
	second := q.Enqueue("meter-001", "reboot", nil)
	third := q.Enqueue("meter-001", "reset_energy", nil)
	q.Enqueue("meter-002", "reboot", nil)

	got := q.Poll("meter-001", 2)
	require.Len(t, got, 2)
	assert.Equal(t, first.CommandID, got[0].CommandID)
	assert.Equal(t, second.CommandID, got[1].CommandID)
	assert.Equal(t, models.CommandStatusExecuting, got[0].Status)
	require.NotNil(t, got[0].SentAt)

	// Remaining command comes on the next poll, already-sent ones never repeat
	got = q.Poll("meter-001", 10)
	require.Len(t, got, 1)
	assert.Equal(t, third.CommandID, got[0].CommandID)

	assert.Empty(t, q.Poll("meter-001", 10))

	// Other device's queue is untouched
	assert.Len(t, q.Poll("meter-002", 0), 1)
}

func TestPollNoLimitDrains(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue("meter-001", "reboot", nil)
	}

	assert.Len(t, q.Poll("meter-001", 0), 5)
	assert.Empty(t, q.Poll("meter-001", 0))
}

func TestSubmitResult(t *testing.T) {
	q := NewQueue()
	cmd := q.Enqueue("meter-001", "read_diag", nil)
	q.Poll("meter-001", 1)

	done, err := q.SubmitResult(cmd.CommandID, true, models.Variables{"temp_c": 41.5}, "")
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusCompleted, done.Status)
	assert.Equal(t, 41.5, done.Result["temp_c"])
	require.NotNil(t, done.CompletedAt)

	_, err = q.SubmitResult("no-such-command", true, nil, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitResultFirstOutcomeWins(t *testing.T) {
	q := NewQueue()
	cmd := q.Enqueue("meter-001", "reboot", nil)
	q.Poll("meter-001", 1)

	done, err := q.SubmitResult(cmd.CommandID, false, nil, "watchdog timeout")
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusFailed, done.Status)

	// A retransmitted report is acknowledged but changes nothing
	repeat, err := q.SubmitResult(cmd.CommandID, true, models.Variables{"ok": true}, "")
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusFailed, repeat.Status)
	assert.Equal(t, "watchdog timeout", repeat.Error)
	assert.Empty(t, repeat.Result)
}

func TestSubmitResultBeforePoll(t *testing.T) {
	q := NewQueue()
	a := q.Enqueue("meter-001", "reboot", nil)
	b := q.Enqueue("meter-001", "set_interval", nil)

	// A result for a never-polled command is accepted and the command
	// leaves the pending queue for good
	done, err := q.SubmitResult(a.CommandID, false, nil, "unsupported")
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusFailed, done.Status)

	got := q.Poll("meter-001", 10)
	require.Len(t, got, 1)
	assert.Equal(t, b.CommandID, got[0].CommandID)

	final, err := q.Get(a.CommandID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusFailed, final.Status)
}

func TestGetAndList(t *testing.T) {
	q := NewQueue()
	clock := time.Now()
	q.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}

	a := q.Enqueue("meter-001", "set_interval", nil)
	b := q.Enqueue("meter-001", "reboot", nil)
	q.Enqueue("meter-002", "reboot", nil)

	got, err := q.Get(a.CommandID)
	require.NoError(t, err)
	assert.Equal(t, a.CommandID, got.CommandID)

	_, err = q.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list := q.List("meter-001")
	require.Len(t, list, 2)
	assert.Equal(t, a.CommandID, list[0].CommandID)
	assert.Equal(t, b.CommandID, list[1].CommandID)
}

func TestStatsSumInvariant(t *testing.T) {
	q := NewQueue()

	a := q.Enqueue("meter-001", "reboot", nil)
	b := q.Enqueue("meter-001", "set_interval", nil)
	q.Enqueue("meter-001", "read_diag", nil)
	q.Enqueue("meter-002", "reboot", nil)

	q.Poll("meter-001", 2)
	_, err := q.SubmitResult(a.CommandID, true, nil, "")
	require.NoError(t, err)
	_, err = q.SubmitResult(b.CommandID, false, nil, "nack")
	require.NoError(t, err)

	s := q.Stats()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 0, s.Executing)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, s.Total, s.Pending+s.Executing+s.Completed+s.Failed)
	assert.Equal(t, 0.5, s.SuccessRate)
}

func TestStatsSuccessRateNoTerminal(t *testing.T) {
	q := NewQueue()

	assert.Zero(t, q.Stats().SuccessRate)

	q.Enqueue("meter-001", "reboot", nil)
	q.Poll("meter-001", 1)
	assert.Zero(t, q.Stats().SuccessRate)
}
