package record

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"threathunt/internal/query"
)

const (
	recordPrefix = "ibh_query_"
	recordExt    = ".csv"
	fileDate     = "20060102"
	rowDate      = "2006-01-02"
)

// Header is the column layout consumed by the reporting dashboard.
var Header = []string{"From date", "To date", "hit_count", "subject_value", "expression"}

// Row is one persisted query result.
type Row struct {
	From       string `json:"from"`
	To         string `json:"to"`
	HitCount   int    `json:"hit_count"`
	Subject    string `json:"subject_value"`
	Expression string `json:"expression"`
}

// RecordFile is a dated record file on disk.
type RecordFile struct {
	Name string    `json:"name"`
	Path string    `json:"-"`
	Date time.Time `json:"date"`
}

// Recorder persists executed queries as dated CSV files.
type Recorder struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

func NewRecorder(dir string, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create record directory: %v", ErrPersistence, err)
	}
	return &Recorder{dir: dir, logger: logger}, nil
}

// Path returns the record file for runDate.
func (r *Recorder) Path(runDate time.Time) string {
	return filepath.Join(r.dir, recordPrefix+runDate.Format(fileDate)+recordExt)
}

// Write appends one row per query, in the order given, to the record file
// of runDate. The file is replaced atomically.
func (r *Recorder) Write(runDate time.Time, queries []query.SearchQuery) (string, error) {
	path := r.Path(runDate)

	r.mu.Lock()
	defer r.mu.Unlock()

	var buf bytes.Buffer
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		buf.Write(existing)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return "", fmt.Errorf("%w: read %s: %v", ErrPersistence, path, err)
	}

	w := csv.NewWriter(&buf)
	if len(existing) == 0 {
		if err := w.Write(Header); err != nil {
			return "", fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	for _, q := range queries {
		if err := w.Write([]string{
			q.Window.From.Format(rowDate),
			q.Window.To.Format(rowDate),
			strconv.Itoa(q.HitCount),
			q.Subject,
			q.Expression,
		}); err != nil {
			return "", fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := writeFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	r.logger.Info("query record written", "path", path, "rows", len(queries))
	return path, nil
}

// List returns the record files dated within [from, to], oldest first.
// A zero bound is open.
func (r *Recorder) List(from, to time.Time) ([]RecordFile, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read record directory: %w", err)
	}
	from, to = truncateDay(from), truncateDay(to)

	var files []RecordFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, recordPrefix) || !strings.HasSuffix(name, recordExt) {
			continue
		}
		date, err := time.Parse(fileDate, strings.TrimSuffix(strings.TrimPrefix(name, recordPrefix), recordExt))
		if err != nil {
			continue
		}
		if !from.IsZero() && date.Before(from) {
			continue
		}
		if !to.IsZero() && date.After(to) {
			continue
		}
		files = append(files, RecordFile{Name: name, Path: filepath.Join(r.dir, name), Date: date})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Date.Before(files[j].Date) })
	return files, nil
}

// Read parses a record file written by Write.
func (r *Recorder) Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(Header) {
			return nil, fmt.Errorf("parse %s: expected %d columns, got %d", path, len(Header), len(rec))
		}
		n, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("parse %s: hit_count %q: %w", path, rec[2], err)
		}
		rows = append(rows, Row{From: rec[0], To: rec[1], HitCount: n, Subject: rec[3], Expression: rec[4]})
	}
	return rows, nil
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
