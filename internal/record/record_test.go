package record

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threathunt/internal/query"
	"threathunt/internal/threat"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func queriesFor(day time.Time, subjects ...string) []query.SearchQuery {
	w := query.NewWindow(day, 90)
	out := make([]query.SearchQuery, len(subjects))
	for i, s := range subjects {
		out[i] = query.SearchQuery{Window: w, Subject: s, Expression: `value="` + s + `"`, HitCount: i}
	}
	return out
}

func TestRecorderWritesHeaderAndRowsInOrder(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, quietLogger())
	require.NoError(t, err)

	day := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	qs := queriesFor(day, "1.2.3.4", "evil.example")
	qs[1].HitCount = query.HitUnknown

	path, err := r.Write(day, qs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ibh_query_20240331.csv"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "From date,To date,hit_count,subject_value,expression", lines[0])
	assert.Equal(t, `2024-01-01,2024-03-31,0,1.2.3.4,"value=""1.2.3.4"""`, lines[1])
	assert.Equal(t, `2024-01-01,2024-03-31,-1,evil.example,"value=""evil.example"""`, lines[2])

	rows, err := r.Read(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{From: "2024-01-01", To: "2024-03-31", HitCount: -1, Subject: "evil.example", Expression: `value="evil.example"`}, rows[1])
}

func TestRecorderAppendsSameDayRuns(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), quietLogger())
	require.NoError(t, err)
	day := time.Date(2024, 3, 31, 6, 0, 0, 0, time.UTC)

	_, err = r.Write(day, queriesFor(day, "a"))
	require.NoError(t, err)
	path, err := r.Write(day.Add(6*time.Hour), queriesFor(day, "b", "c"))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "From date"), "header written once")

	rows, err := r.Read(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{rows[0].Subject, rows[1].Subject, rows[2].Subject})
}

func TestRecorderLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, quietLogger())
	require.NoError(t, err)
	day := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err = r.Write(day, queriesFor(day, "x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ibh_query_20240331.csv", entries[0].Name())
}

func TestRecorderWriteFailsOnUnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, quietLogger())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	_, err = r.Write(time.Now(), queriesFor(time.Now(), "x"))
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestRecorderList(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, quietLogger())
	require.NoError(t, err)
	for _, d := range []int{3, 1, 2} {
		day := time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
		_, err := r.Write(day, nil)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ibh_query_garbage.csv"), []byte("x"), 0o644))

	all, err := r.List(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ibh_query_20240301.csv", all[0].Name)
	assert.Equal(t, "ibh_query_20240303.csv", all[2].Name)

	some, err := r.List(time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC), time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "ibh_query_20240302.csv", some[0].Name)
}

func TestTitle(t *testing.T) {
	tests := []struct {
		info string
		want string
	}{
		{"[APT-X] phishing", "APT-X"},
		{"prefix [first] and [second]", "first"},
		{"no brackets", ""},
		{"[] empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.info, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.info))
		})
	}
}

func TestArtifactNameSanitized(t *testing.T) {
	ev := threat.Event{ID: "7", Date: "2024-03-30", Info: "[a/b\\c] x"}
	assert.Equal(t, "report_2024-03-30_7_a_b_c.md", ArtifactName(ev))

	ev.Info = "untitled"
	assert.Equal(t, "report_2024-03-30_7_.md", ArtifactName(ev))
}

func TestReportWriterOnlyWritesSecondSection(t *testing.T) {
	dir := t.TempDir()
	w, err := NewReportWriter(dir, quietLogger())
	require.NoError(t, err)

	events := []threat.Event{
		{ID: "1", Date: "2024-03-30", Info: "[one]", Reports: []threat.Report{{Content: "only"}}},
		{ID: "2", Date: "2024-03-30", Info: "[two]"},
		{ID: "3", Date: "2024-03-30", Info: "[three]", Reports: []threat.Report{
			{Content: "summary"}, {Content: "full *markdown*\n"}, {Content: "appendix"},
		}},
	}
	stats := w.WriteAll(events)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Failed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report_2024-03-30_3_three.md", entries[0].Name())

	content, err := os.ReadFile(stats.Paths[0])
	require.NoError(t, err)
	assert.Equal(t, "full *markdown*\n", string(content))
}

func TestReportWriterRejectsShortEvent(t *testing.T) {
	w, err := NewReportWriter(t.TempDir(), quietLogger())
	require.NoError(t, err)
	_, err = w.Write(threat.Event{ID: "9"})
	assert.ErrorIs(t, err, threat.ErrMalformedEvent)
}

func TestReportWriterOverwritesPreviousArtifact(t *testing.T) {
	w, err := NewReportWriter(t.TempDir(), quietLogger())
	require.NoError(t, err)
	ev := threat.Event{ID: "4", Date: "2024-03-30", Info: "[t]", Reports: []threat.Report{{}, {Content: "v1"}}}
	_, err = w.Write(ev)
	require.NoError(t, err)
	ev.Reports[1].Content = "v2"
	path, err := w.Write(ev)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

func TestReportWriterContinuesAfterFailedArtifact(t *testing.T) {
	dir := t.TempDir()
	w, err := NewReportWriter(dir, quietLogger())
	require.NoError(t, err)

	blocked := threat.Event{ID: "1", Date: "2024-03-30", Info: "[blocked]", Reports: []threat.Report{{}, {Content: "a"}}}
	ok := threat.Event{ID: "2", Date: "2024-03-30", Info: "[fine]", Reports: []threat.Report{{}, {Content: "b"}}}
	require.NoError(t, os.Mkdir(filepath.Join(dir, ArtifactName(blocked)), 0o755))

	stats := w.WriteAll([]threat.Event{blocked, ok})
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Written)
	require.Len(t, stats.Paths, 1)

	content, err := os.ReadFile(filepath.Join(dir, ArtifactName(ok)))
	require.NoError(t, err)
	assert.Equal(t, "b", string(content))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}
