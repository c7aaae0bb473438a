package oauth

import (
	"sync"

	"github.com/galadril/domoticz-mcp/internal/logging"
)

// AuthCodeLog is a fixed-size FIFO of recent bridge callbacks, served by
// /last_auth_codes for debugging client integrations.
type AuthCodeLog struct {
	mu       sync.Mutex
	records  []AuthCodeRecord
	capacity int
	fullCode bool
}

// NewAuthCodeLog creates a log holding at most capacity records. Codes are
// masked with logging.MaskCode unless fullCode is set.
func NewAuthCodeLog(capacity int, fullCode bool) *AuthCodeLog {
	if capacity <= 0 {
		capacity = DefaultAuthCodesCapacity
	}
	return &AuthCodeLog{
		records:  make([]AuthCodeRecord, 0, capacity),
		capacity: capacity,
		fullCode: fullCode,
	}
}

// Add appends rec, evicting the oldest record when full.
func (l *AuthCodeLog) Add(rec AuthCodeRecord) {
	if !l.fullCode {
		rec.Code = logging.MaskCode(rec.Code)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == l.capacity {
		copy(l.records, l.records[1:])
		l.records = l.records[:l.capacity-1]
	}
	l.records = append(l.records, rec)
}

// Recent returns a copy of the records, oldest first.
func (l *AuthCodeLog) Recent() []AuthCodeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuthCodeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Capacity returns the maximum number of records kept.
func (l *AuthCodeLog) Capacity() int {
	return l.capacity
}
