package record

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"threathunt/internal/metrics"
	"threathunt/internal/threat"
)

var titlePattern = regexp.MustCompile(`\[([^\]]+)\]`)

var nameSanitizer = strings.NewReplacer("/", "_", `\`, "_", "\x00", "_")

// ReportStats summarises one WriteAll call.
type ReportStats struct {
	Written int
	Skipped int
	Failed  int
	Paths   []string
}

// ReportWriter extracts long-form report sections into markdown files.
type ReportWriter struct {
	dir    string
	logger *slog.Logger
}

func NewReportWriter(dir string, logger *slog.Logger) (*ReportWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create report directory: %v", ErrPersistence, err)
	}
	return &ReportWriter{dir: dir, logger: logger}, nil
}

// Title returns the first bracketed segment of info, or "".
func Title(info string) string {
	m := titlePattern.FindStringSubmatch(info)
	if m == nil {
		return ""
	}
	return m[1]
}

// HasReport reports whether ev carries the section an artifact is cut from.
func HasReport(ev threat.Event) bool {
	return len(ev.Reports) >= 2
}

// ArtifactName derives the file name for ev's report artifact.
func ArtifactName(ev threat.Event) string {
	return nameSanitizer.Replace(fmt.Sprintf("report_%s_%s_%s.md", ev.Date, ev.ID, Title(ev.Info)))
}

// Write stores the second report section of ev verbatim, replacing any
// artifact a previous run produced for the same event.
func (w *ReportWriter) Write(ev threat.Event) (string, error) {
	if !HasReport(ev) {
		return "", fmt.Errorf("%w: event %s has %d report sections", threat.ErrMalformedEvent, ev.ID, len(ev.Reports))
	}
	path := filepath.Join(w.dir, ArtifactName(ev))
	if err := writeFileAtomic(path, []byte(ev.Reports[1].Content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteAll writes an artifact for every qualifying event. A failed write is
// logged and does not stop the others.
func (w *ReportWriter) WriteAll(events []threat.Event) ReportStats {
	var stats ReportStats
	for _, ev := range events {
		if !HasReport(ev) {
			stats.Skipped++
			continue
		}
		path, err := w.Write(ev)
		if err != nil {
			stats.Failed++
			metrics.Reports.WithLabelValues("failed").Inc()
			w.logger.Error("report artifact failed", "event_id", ev.ID, "err", err)
			continue
		}
		stats.Written++
		stats.Paths = append(stats.Paths, path)
		metrics.Reports.WithLabelValues("written").Inc()
		w.logger.Info("report artifact written", "event_id", ev.ID, "path", path)
	}
	return stats
}
