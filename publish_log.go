package match

import (
	"sync"
	"sync/atomic"
)

// PublishLog is an interface for publishing order book logs (opens, matches, rejects).
//
// IMPORTANT: Implementations must either:
//  1. Process logs synchronously before returning, OR
//  2. Clone the BookLog data before returning
//
// The caller recycles BookLog objects to a sync.Pool after Publish returns,
// so any asynchronous processing must work with cloned data.
//
// Publish is called from inside the order book loop; it must never block,
// or a slow consumer would stall matching.
type PublishLog interface {
	Publish(...*BookLog)
}

// MemoryPublishLog stores logs in memory, useful for testing.
type MemoryPublishLog struct {
	mu   sync.RWMutex
	logs []*BookLog
}

// NewMemoryPublishLog creates a new MemoryPublishLog.
func NewMemoryPublishLog() *MemoryPublishLog {
	return &MemoryPublishLog{
		logs: make([]*BookLog, 0),
	}
}

// Publish appends cloned logs to the in-memory slice.
func (m *MemoryPublishLog) Publish(logs ...*BookLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, log := range logs {
		cpy := new(BookLog)
		*cpy = *log
		m.logs = append(m.logs, cpy)
	}
}

// Count returns the number of logs stored.
func (m *MemoryPublishLog) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

// Get returns the log at the specified index.
func (m *MemoryPublishLog) Get(index int) *BookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logs[index]
}

// Logs returns a copy of all logs stored.
func (m *MemoryPublishLog) Logs() []*BookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := make([]*BookLog, len(m.logs))
	copy(logs, m.logs)
	return logs
}

// Matches returns only the Match logs, in publish order.
func (m *MemoryPublishLog) Matches() []*BookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]*BookLog, 0, len(m.logs))
	for _, log := range m.logs {
		if log.Type == LogTypeMatch {
			matches = append(matches, log)
		}
	}
	return matches
}

// DiscardPublishLog discards all logs, useful for benchmarking.
type DiscardPublishLog struct {
}

// NewDiscardPublishLog creates a new DiscardPublishLog.
func NewDiscardPublishLog() *DiscardPublishLog {
	return &DiscardPublishLog{}
}

// Publish does nothing.
func (p *DiscardPublishLog) Publish(logs ...*BookLog) {

}

// ChannelPublishLog hands cloned logs off to a buffered channel so downstream
// consumers (settlement, market data) can drain them at their own pace.
// When the buffer is full the log is dropped and counted; matching never blocks.
type ChannelPublishLog struct {
	ch      chan *BookLog
	dropped atomic.Uint64
}

// NewChannelPublishLog creates a ChannelPublishLog with the given buffer size.
func NewChannelPublishLog(buffer int) *ChannelPublishLog {
	return &ChannelPublishLog{
		ch: make(chan *BookLog, buffer),
	}
}

// Publish clones each log and performs a non-blocking send.
func (p *ChannelPublishLog) Publish(logs ...*BookLog) {
	for _, log := range logs {
		cpy := new(BookLog)
		*cpy = *log

		select {
		case p.ch <- cpy:
		default:
			p.dropped.Add(1)
			logger.Warn("book log dropped, consumer too slow",
				"instrument", cpy.Instrument,
				"seq_id", cpy.SequenceID)
		}
	}
}

// Logs returns the channel consumers read from.
func (p *ChannelPublishLog) Logs() <-chan *BookLog {
	return p.ch
}

// Dropped returns the number of logs dropped due to a full buffer.
func (p *ChannelPublishLog) Dropped() uint64 {
	return p.dropped.Load()
}
