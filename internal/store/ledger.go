package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var ErrNotFound = errors.New("run not found")

var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("runs_by_time")
)

// Run status values.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Run is the ledger entry describing one pipeline run.
type Run struct {
	ID                 string    `json:"id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Status             string    `json:"status"`
	Error              string    `json:"error,omitempty"`
	Events             int       `json:"events"`
	Indicators         int       `json:"indicators"`
	DistinctIndicators int       `json:"distinct_indicators"`
	Queries            int       `json:"queries"`
	FailedQueries      int       `json:"failed_queries"`
	CachedQueries      int       `json:"cached_queries"`
	Hits               int       `json:"hits"`
	RecordPath         string    `json:"record_path,omitempty"`
	RecordFailed       bool      `json:"record_failed,omitempty"`
	ReportsWritten     int       `json:"reports_written"`
	ReportsFailed      int       `json:"reports_failed"`
	Notified           int       `json:"notified"`
}

// Ledger keeps run history in a bbolt file.
type Ledger struct {
	db *bbolt.DB
}

func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Save inserts or replaces run.
func (l *Ledger) Save(run Run) error {
	if run.ID == "" {
		return errors.New("run without id")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if prev := runs.Get([]byte(run.ID)); prev != nil {
			var old Run
			if err := json.Unmarshal(prev, &old); err == nil {
				if err := tx.Bucket(bucketIndex).Delete(indexKey(old)); err != nil {
					return err
				}
			}
		}
		if err := runs.Put([]byte(run.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put(indexKey(run), []byte(run.ID))
	})
}

func (l *Ledger) Get(id string) (Run, error) {
	var run Run
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &run)
	})
	return run, err
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (l *Ledger) List(limit int) ([]Run, error) {
	var out []Run
	err := l.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		c := tx.Bucket(bucketIndex).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			data := runs.Get(id)
			if data == nil {
				continue
			}
			var run Run
			if err := json.Unmarshal(data, &run); err != nil {
				return fmt.Errorf("decode run %s: %w", id, err)
			}
			out = append(out, run)
		}
		return nil
	})
	return out, err
}

// indexKey sorts lexically by start time.
func indexKey(run Run) []byte {
	return []byte(run.StartedAt.UTC().Format("20060102T150405.000000000") + "/" + run.ID)
}
