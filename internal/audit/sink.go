// Package audit is the append-only sink for decisions, overrides, and
// security alerts. Records are never updated or deleted; the in-memory sink
// additionally chains record hashes so tampering is detectable.
package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Record kinds.
const (
	KindDecision        = "decision"
	KindOverride        = "override"
	KindAnomaly         = "anomaly"
	KindSegmentAlert    = "segment_alert"
	KindSessionRevoked  = "session_revoked"
	KindPolicyChange    = "policy_change"
	KindQuarantine      = "quarantine"
	KindQuarantineClear = "quarantine_clear"
)

// Record is one immutable audit entry.
type Record struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	RequestID string                 `json:"request_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	DeviceID  string                 `json:"device_id,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Verdict   string                 `json:"verdict,omitempty"`
	Rationale []string               `json:"rationale,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	PrevHash  string                 `json:"prev_hash,omitempty"`
	Hash      string                 `json:"hash,omitempty"`
}

// Sink is the append-only audit interface. Append must never mutate or
// reorder existing records.
type Sink interface {
	Append(ctx context.Context, rec *Record) error
	ByRequest(ctx context.Context, requestID string) ([]*Record, error)
}

// NewRecord fills id and timestamp for a record under construction.
func NewRecord(kind string) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// MemorySink is the in-process sink. Each appended record is hashed over
// its canonical JSON plus the previous record's hash, forming a chain whose
// head changes if any historical entry is altered.
type MemorySink struct {
	mu       sync.Mutex
	records  []*Record
	byReq    map[string][]*Record
	headHash string
}

// NewMemorySink creates an empty in-memory audit sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{byReq: make(map[string][]*Record)}
}

// Append adds a record to the chain.
func (ms *MemorySink) Append(_ context.Context, rec *Record) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec.PrevHash = ms.headHash
	h, err := chainHash(rec)
	if err != nil {
		return err
	}
	rec.Hash = h
	ms.headHash = h

	ms.records = append(ms.records, rec)
	if rec.RequestID != "" {
		ms.byReq[rec.RequestID] = append(ms.byReq[rec.RequestID], rec)
	}
	return nil
}

// ByRequest returns all records for a request in append order.
func (ms *MemorySink) ByRequest(_ context.Context, requestID string) ([]*Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]*Record, len(ms.byReq[requestID]))
	copy(out, ms.byReq[requestID])
	return out, nil
}

// Len returns the total record count.
func (ms *MemorySink) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.records)
}

// Verify walks the chain and reports whether every link still holds.
func (ms *MemorySink) Verify() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	prev := ""
	for _, rec := range ms.records {
		if rec.PrevHash != prev {
			return false
		}
		clone := *rec
		clone.Hash = ""
		h, err := chainHash(&clone)
		if err != nil || h != rec.Hash {
			return false
		}
		prev = rec.Hash
	}
	return true
}

// chainHash computes blake2b-256 over the record's canonical JSON with the
// Hash field cleared (PrevHash participates, linking the chain).
func chainHash(rec *Record) (string, error) {
	clone := *rec
	clone.Hash = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

var _ Sink = (*MemorySink)(nil)
