package anchor

import (
	"sync"
	"time"

	types "github.com/anchorstack/commitchain/pkg/types/registry"
)

// Stats tracks anchoring counters for the status server. Safe for concurrent use.
type Stats struct {
	mu                  sync.Mutex
	anchored            uint64
	failedTerminal      uint64
	eventsAnchored      uint64
	lastBatchId         *types.Hash32
	lastAnchoredAt      time.Time
	consecutiveFailures int
}

// StatsSnapshot is the JSON shape exposed by the status server.
type StatsSnapshot struct {
	Anchored            uint64        `json:"anchored"`
	FailedTerminal      uint64        `json:"failed_terminal"`
	EventsAnchored      uint64        `json:"events_anchored"`
	LastBatchId         *types.Hash32 `json:"last_batch_id,omitempty"`
	LastAnchoredAt      *time.Time    `json:"last_anchored_at,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) RecordAnchored(batchId types.Hash32, eventCount uint32, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anchored++
	s.eventsAnchored += uint64(eventCount)
	s.lastBatchId = &batchId
	s.lastAnchoredAt = at
	s.consecutiveFailures = 0
}

func (s *Stats) RecordTerminalFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failedTerminal++
}

func (s *Stats) RecordCycleFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveFailures++
}

func (s *Stats) RecordCycleSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveFailures = 0
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := StatsSnapshot{
		Anchored:            s.anchored,
		FailedTerminal:      s.failedTerminal,
		EventsAnchored:      s.eventsAnchored,
		ConsecutiveFailures: s.consecutiveFailures,
	}

	if s.lastBatchId != nil {
		batchId := *s.lastBatchId
		snapshot.LastBatchId = &batchId
	}

	if !s.lastAnchoredAt.IsZero() {
		at := s.lastAnchoredAt
		snapshot.LastAnchoredAt = &at
	}

	return snapshot
}
