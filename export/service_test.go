package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/pic2pdf/compose"
	"github.com/wudi/pic2pdf/session"
	"github.com/wudi/pic2pdf/writer"
)

func pngEntry(t *testing.T, name string, w, h int) session.Entry {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w; i++ {
		img.Set(i, i%h, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return session.Entry{ID: uuid.NewString(), Name: name, Width: w, Height: h, Source: session.BytesSource(buf.Bytes())}
}

func badEntry(name string) session.Entry {
	return session.Entry{ID: uuid.NewString(), Name: name, Source: session.BytesSource("\x89PNG\r\n\x1a\nbroken")}
}

// gatedSource blocks Open until the gate is closed.
type gatedSource struct {
	gate <-chan struct{}
	data session.BytesSource
}

func (g gatedSource) Open() (io.ReadCloser, error) {
	<-g.gate
	return g.data.Open()
}

func settings(name string) session.Settings {
	s := session.DefaultSettings()
	s.Filename = name
	return s
}

func waitJob(t *testing.T, s *Service, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	j, err := s.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait %s: %v", id, err)
	}
	return j
}

func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, TempFilePrefix+"*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestNormalizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{" report ", "report.pdf", false},
		{"a.PDF", "a.PDF", false},
		{"Pic2PDF_Export", "Pic2PDF_Export.pdf", false},
		{"notes.pdf.bak", "notes.pdf.bak.pdf", false},
		{"   ", "", true},
		{"../escape", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeFilename(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("NormalizeFilename(%q) = %q, %v; want %q (err %v)", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}

func TestStartRejectsEmptyRequests(t *testing.T) {
	s := NewService(Options{})
	if _, err := s.Start(Request{Settings: settings("x")}); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("expected ErrNothingToExport for no entries, got %v", err)
	}
	if _, err := s.Start(Request{Entries: []session.Entry{pngEntry(t, "a", 2, 2)}, Settings: settings(" ")}); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("expected ErrNothingToExport for blank name, got %v", err)
	}
}

func TestExportWritesPDF(t *testing.T) {
	dir := t.TempDir()
	s := NewService(Options{Writer: writer.Config{Compression: 6}})
	var mu sync.Mutex
	var statuses []Status
	s.SetUpdateCallback(func(j Job) {
		mu.Lock()
		defer mu.Unlock()
		if len(statuses) == 0 || statuses[len(statuses)-1] != j.Status {
			statuses = append(statuses, j.Status)
		}
	})

	job, err := s.Start(Request{
		Entries:   []session.Entry{pngEntry(t, "a.png", 20, 10), pngEntry(t, "b.png", 10, 20)},
		Settings:  settings(" holiday "),
		OutputDir: dir,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	done := waitJob(t, s, job.ID)
	if done.Status != StatusCompleted || done.Err != nil {
		t.Fatalf("unexpected job %+v", done)
	}
	if done.Pages != 2 || done.Progress != 1 || done.Bytes <= 0 {
		t.Fatalf("unexpected result %+v", done)
	}
	if done.OutputPath != filepath.Join(dir, "holiday.pdf") {
		t.Fatalf("unexpected path %q", done.OutputPath)
	}
	data, err := os.ReadFile(done.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-1.7")) || !bytes.HasSuffix(data, []byte("%%EOF\n")) {
		t.Fatalf("output is not a complete pdf")
	}
	if !bytes.Contains(data, []byte("/Title (holiday)")) || !bytes.Contains(data, []byte("/Count 2")) {
		t.Fatalf("output lacks title or page count")
	}
	if l := leftovers(t, dir); len(l) != 0 {
		t.Fatalf("temp files left behind: %v", l)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusPending, StatusRunning, StatusCompleted}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	dir := t.TempDir()
	s := NewService(Options{Compose: compose.Options{Concurrency: 8}})
	var mu sync.Mutex
	var progress []float64
	s.SetUpdateCallback(func(j Job) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, j.Progress)
	})

	entries := make([]session.Entry, 24)
	for i := range entries {
		entries[i] = pngEntry(t, "p.png", 6+i, 6)
	}
	job, err := s.Start(Request{Entries: entries, Settings: settings("progress"), OutputDir: dir})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if j := waitJob(t, s, job.ID); j.Status != StatusCompleted {
		t.Fatalf("job did not complete: %s (%v)", j.Status, j.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went from %v to %v: %v", progress[i-1], progress[i], progress)
		}
	}
	if last := progress[len(progress)-1]; last != 1 {
		t.Fatalf("final progress = %v", last)
	}
}

func TestStartCancelsRunningJob(t *testing.T) {
	dir := t.TempDir()
	s := NewService(Options{})
	gate := make(chan struct{})
	slow := pngEntry(t, "slow.png", 8, 8)
	slow.Source = gatedSource{gate: gate, data: slow.Source.(session.BytesSource)}

	first, err := s.Start(Request{Entries: []session.Entry{slow}, Settings: settings("first"), OutputDir: dir})
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	second, err := s.Start(Request{Entries: []session.Entry{pngEntry(t, "b.png", 4, 4)}, Settings: settings("second"), OutputDir: dir})
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	close(gate)

	if j := waitJob(t, s, first.ID); j.Status != StatusCancelled {
		t.Fatalf("first job should be cancelled, got %s (%v)", j.Status, j.Err)
	}
	if j := waitJob(t, s, second.ID); j.Status != StatusCompleted {
		t.Fatalf("second job should complete, got %s (%v)", j.Status, j.Err)
	}
	if _, err := os.Stat(filepath.Join(dir, "first.pdf")); !os.IsNotExist(err) {
		t.Fatalf("cancelled job left a file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "second.pdf")); err != nil {
		t.Fatalf("second output missing: %v", err)
	}
	if l := leftovers(t, dir); len(l) != 0 {
		t.Fatalf("temp files left behind: %v", l)
	}
}

func TestCancelJob(t *testing.T) {
	dir := t.TempDir()
	s := NewService(Options{})
	gate := make(chan struct{})
	slow := pngEntry(t, "slow.png", 8, 8)
	slow.Source = gatedSource{gate: gate, data: slow.Source.(session.BytesSource)}
	job, err := s.Start(Request{Entries: []session.Entry{slow}, Settings: settings("x"), OutputDir: dir})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Cancel(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(gate)
	if j := waitJob(t, s, job.ID); j.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", j.Status)
	}
	if err := s.Cancel("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.Wait(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound from Wait, got %v", err)
	}
}

func TestFailureReportedToSession(t *testing.T) {
	sess := session.New(session.Options{})
	s := NewService(Options{Session: sess})
	job, err := s.Start(Request{
		Entries:   []session.Entry{pngEntry(t, "a.png", 4, 4), badEntry("bad.png")},
		Settings:  settings("broken"),
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	j := waitJob(t, s, job.ID)
	if j.Status != StatusFailed {
		t.Fatalf("expected failure, got %s", j.Status)
	}
	var ie *compose.ImageError
	if !errors.As(j.Err, &ie) || ie.Name != "bad.png" {
		t.Fatalf("expected image error for bad.png, got %v", j.Err)
	}
	errs := sess.Errors()
	if len(errs) != 1 || !strings.HasPrefix(errs[0], "An error occurred while generating the PDF: ") {
		t.Fatalf("unexpected session errors %q", errs)
	}
	if sess.Busy() {
		t.Fatalf("session should not stay busy")
	}
}

func TestLenientPolicySkipsAndReports(t *testing.T) {
	sess := session.New(session.Options{})
	dir := t.TempDir()
	s := NewService(Options{Session: sess, Policy: "lenient"})
	job, err := s.Start(Request{
		Entries:   []session.Entry{badEntry("bad.png"), pngEntry(t, "a.png", 4, 4)},
		Settings:  settings("partial"),
		OutputDir: dir,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	j := waitJob(t, s, job.ID)
	if j.Status != StatusCompleted || j.Pages != 1 || len(j.Skipped) != 1 {
		t.Fatalf("unexpected job %+v", j)
	}
	want := `"bad.png" could not be loaded. The file may be corrupted.`
	if errs := sess.Errors(); len(errs) != 1 || errs[0] != want {
		t.Fatalf("session errors = %q, want %q", errs, want)
	}
}

func TestStartSession(t *testing.T) {
	sess := session.New(session.Options{})
	s := NewService(Options{Session: sess})
	if _, err := s.StartSession(t.TempDir()); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("expected ErrNothingToExport, got %v", err)
	}
	if _, err := NewService(Options{}).StartSession(""); err == nil {
		t.Fatalf("expected error without a bound session")
	}
}

func TestMissingOutputDirFails(t *testing.T) {
	s := NewService(Options{})
	job, err := s.Start(Request{
		Entries:   []session.Entry{pngEntry(t, "a.png", 4, 4)},
		Settings:  settings("x"),
		OutputDir: filepath.Join(t.TempDir(), "missing"),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if j := waitJob(t, s, job.ID); j.Status != StatusFailed || j.Err == nil {
		t.Fatalf("expected failure, got %+v", j)
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, st := range []Status{StatusPending, StatusRunning} {
		if !st.IsActive() || st.IsFinished() {
			t.Fatalf("%s should be active", st)
		}
	}
	for _, st := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if st.IsActive() || !st.IsFinished() {
			t.Fatalf("%s should be finished", st)
		}
	}
}
