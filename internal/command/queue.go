package command

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/energymon-server/energymon-server/internal/models"
)

// Command queue errors
var (
	ErrNotFound = errors.New("command not found")
)

// Stats are derived counts over every command the queue has seen.
// SuccessRate is the completed share of terminal commands, 0 when
// nothing has reached a terminal state yet.
type Stats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Executing   int     `json:"executing"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

// Queue holds operator-issued commands per device. A command moves
// Pending -> Executing when a device polls it, then to a terminal
// Completed or Failed when the device reports a result. Commands are
// handed to a device at most once; history is retained for stats and
// result lookups.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]*models.Command // deviceID -> FIFO of Pending
	byID    map[string]*models.Command   // every command ever enqueued

	now func() time.Time
}

// NewQueue creates an empty command queue
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string][]*models.Command),
		byID:    make(map[string]*models.Command),
		now:     time.Now,
	}
}

// Enqueue queues a command for a device and returns it with its
// assigned ID and queue timestamp.
func (q *Queue) Enqueue(deviceID, commandType string, parameters models.Variables) *models.Command {
	cmd := &models.Command{
		CommandID:  uuid.New().String(),
		DeviceID:   deviceID,
		Type:       commandType,
		Parameters: parameters,
		Status:     models.CommandStatusPending,
		QueuedAt:   q.now(),
	}

	q.mu.Lock()
	q.pending[deviceID] = append(q.pending[deviceID], cmd)
	q.byID[cmd.CommandID] = cmd
	q.mu.Unlock()

	log.Info().
		Str("deviceID", deviceID).
		Str("commandID", cmd.CommandID).
		Str("type", commandType).
		Msg("Command queued")

	return copyCommand(cmd)
}

// Poll hands the device up to limit pending commands in queue order and
// marks each Executing. A command is only ever returned once; limit <= 0
// drains the whole queue.
func (q *Queue) Poll(deviceID string, limit int) []*models.Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	fifo := q.pending[deviceID]
	if len(fifo) == 0 {
		return nil
	}

	n := len(fifo)
	if limit > 0 && limit < n {
		n = limit
	}

	now := q.now()
	out := make([]*models.Command, 0, n)
	for _, cmd := range fifo[:n] {
		cmd.Status = models.CommandStatusExecuting
		cmd.SentAt = &now
		out = append(out, copyCommand(cmd))
	}

	rest := fifo[n:]
	if len(rest) == 0 {
		delete(q.pending, deviceID)
	} else {
		q.pending[deviceID] = rest
	}

	return out
}

// SubmitResult records the device-reported outcome for a command. The
// first terminal result wins; a repeat report is acknowledged but does
// not overwrite what was already recorded. A result for a still-Pending
// command is accepted too (the device may learn the command ID from an
// earlier poll the server has since forgotten) and removes it from the
// pending queue so it is never handed out again.
func (q *Queue) SubmitResult(commandID string, success bool, result models.Variables, errMsg string) (*models.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.byID[commandID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, commandID)
	}

	if cmd.IsTerminal() {
		log.Debug().
			Str("commandID", commandID).
			Str("status", string(cmd.Status)).
			Msg("Ignoring repeat command result")
		return copyCommand(cmd), nil
	}

	if cmd.Status == models.CommandStatusPending {
		q.dropPending(cmd)
	}

	now := q.now()
	cmd.CompletedAt = &now
	cmd.Result = result
	cmd.Error = errMsg
	if success {
		cmd.Status = models.CommandStatusCompleted
	} else {
		cmd.Status = models.CommandStatusFailed
	}

	log.Info().
		Str("commandID", commandID).
		Str("deviceID", cmd.DeviceID).
		Bool("success", success).
		Msg("Command result recorded")

	return copyCommand(cmd), nil
}

// Get returns a copy of a command by ID
func (q *Queue) Get(commandID string) (*models.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.byID[commandID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, commandID)
	}
	return copyCommand(cmd), nil
}

// List returns copies of every command for a device, oldest first
func (q *Queue) List(deviceID string) []*models.Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.Command
	for _, cmd := range q.byID {
		if cmd.DeviceID == deviceID {
			out = append(out, copyCommand(cmd))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// Stats derives counts from the full command history. Total always
// equals the sum of the per-status counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Total: len(q.byID)}
	for _, cmd := range q.byID {
		switch cmd.Status {
		case models.CommandStatusPending:
			s.Pending++
		case models.CommandStatusExecuting:
			s.Executing++
		case models.CommandStatusCompleted:
			s.Completed++
		case models.CommandStatusFailed:
			s.Failed++
		}
	}
	if terminal := s.Completed + s.Failed; terminal > 0 {
		s.SuccessRate = float64(s.Completed) / float64(terminal)
	}
	return s
}

// dropPending removes a command from its device's pending FIFO. Caller
// holds the lock.
func (q *Queue) dropPending(cmd *models.Command) {
	fifo := q.pending[cmd.DeviceID]
	for i, c := range fifo {
		if c.CommandID != cmd.CommandID {
			continue
		}
		fifo = append(fifo[:i], fifo[i+1:]...)
		break
	}
	if len(fifo) == 0 {
		delete(q.pending, cmd.DeviceID)
	} else {
		q.pending[cmd.DeviceID] = fifo
	}
}

func copyCommand(c *models.Command) *models.Command {
	out := *c
	if c.SentAt != nil {
		t := *c.SentAt
		out.SentAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
