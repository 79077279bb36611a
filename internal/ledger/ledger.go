// Package ledger persists build history across runs: one record per
// job attempt, keyed by UUID, plus a secondary index of the latest
// record for each origin so a bulk run can answer "did this port build
// last time" without a full scan. Grounded directly on the teacher's
// builddb/db.go: same bbolt buckets-and-JSON-blob shape, same
// DatabaseError typed-error pattern, generalized from a
// single global build database into one ledger per reprise run root.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"reprise/internal/model"
)

const (
	bucketRecords = "records"
	bucketLatest  = "latest" // key: origin -> UUID of most recent record
)

var (
	ErrRecordNotFound = errors.New("ledger: record not found")
	ErrEmptyUUID      = errors.New("ledger: empty uuid")
)

// DatabaseError wraps a bbolt-layer failure with the operation that failed.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string { return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err) }
func (e *DatabaseError) Unwrap() error { return e.Err }

// Record is one completed (or in-progress) job attempt.
type Record struct {
	UUID      string          `json:"uuid"`
	Origin    string          `json:"origin"`
	Status    model.JobStatus `json:"status"`
	LogPath   string          `json:"log_path"`
	Details   string          `json:"details,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
}

// Ledger wraps a bbolt database recording job history.
type Ledger struct {
	db *bolt.DB
}

// Open opens or creates the ledger database at path, initializing its
// buckets.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketRecords)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketLatest))
		return err
	})
	if err != nil {
		db.Close()
		return nil, &DatabaseError{Op: "init buckets", Err: err}
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record stores rec, then updates the origin's latest-UUID index.
func (l *Ledger) Record(rec *Record) error {
	if rec.UUID == "" {
		return ErrEmptyUUID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &DatabaseError{Op: "marshal", Err: err}
	}
	err = l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketRecords)).Put([]byte(rec.UUID), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketLatest)).Put([]byte(rec.Origin), []byte(rec.UUID))
	})
	if err != nil {
		return &DatabaseError{Op: "record", Err: err}
	}
	return nil
}

// Get retrieves a Record by UUID.
func (l *Ledger) Get(uuid string) (*Record, error) {
	if uuid == "" {
		return nil, ErrEmptyUUID
	}
	var rec Record
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketRecords)).Get([]byte(uuid))
		if data == nil {
			return ErrRecordNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestFor returns the most recent record for origin, or
// ErrRecordNotFound if none exists.
func (l *Ledger) LatestFor(origin string) (*Record, error) {
	var rec Record
	err := l.db.View(func(tx *bolt.Tx) error {
		uuid := tx.Bucket([]byte(bucketLatest)).Get([]byte(origin))
		if uuid == nil {
			return ErrRecordNotFound
		}
		data := tx.Bucket([]byte(bucketRecords)).Get(uuid)
		if data == nil {
			return ErrRecordNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent returns up to limit records, newest first by start time,
// across the whole ledger — the data source for `reprise history`.
func (l *Ledger) Recent(limit int) ([]*Record, error) {
	var all []*Record
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketRecords)).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			all = append(all, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, &DatabaseError{Op: "scan", Err: err}
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].StartTime.After(all[i].StartTime) {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// FromResult builds a Record from a completed JobResult.
func FromResult(uuid string, result *model.JobResult, start, end time.Time) *Record {
	return &Record{
		UUID:      uuid,
		Origin:    result.Spec.TargetOrigin,
		Status:    result.Status,
		LogPath:   result.LogPath,
		Details:   result.Details,
		StartTime: start,
		EndTime:   end,
	}
}
