package price

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// EvidenceLog keeps the full per-source price breakdown behind each
// signed outcome. Outcome rows store only the aggregate; this log is
// what an operator checks when a signed value is disputed.
type EvidenceLog struct {
	db *pebble.DB
}

func OpenEvidenceLog(path string) (*EvidenceLog, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open evidence log: %w", err)
	}
	return &EvidenceLog{db: db}, nil
}

func (l *EvidenceLog) Close() error { return l.db.Close() }

// keys: ev:<event-id>
func kEvidence(eventID string) []byte { return append([]byte("ev:"), eventID...) }

// Record stores the aggregate and all its singles for an event.
func (l *EvidenceLog) Record(eventID string, info Info) error {
	val, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode evidence %s: %w", eventID, err)
	}
	if err := l.db.Set(kEvidence(eventID), val, pebble.Sync); err != nil {
		return fmt.Errorf("write evidence %s: %w", eventID, err)
	}
	return nil
}

func (l *EvidenceLog) Get(eventID string) (Info, bool, error) {
	val, closer, err := l.db.Get(kEvidence(eventID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return Info{}, false, nil
		}
		return Info{}, false, fmt.Errorf("read evidence %s: %w", eventID, err)
	}
	defer closer.Close()
	var out Info
	if err := json.Unmarshal(val, &out); err != nil {
		return Info{}, false, fmt.Errorf("decode evidence %s: %w", eventID, err)
	}
	return out, true, nil
}
