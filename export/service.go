// Package export runs PDF generation as a single background job.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/pic2pdf/compose"
	"github.com/wudi/pic2pdf/imagefile"
	"github.com/wudi/pic2pdf/ir/raw"
	"github.com/wudi/pic2pdf/observability"
	"github.com/wudi/pic2pdf/recovery"
	"github.com/wudi/pic2pdf/session"
	"github.com/wudi/pic2pdf/writer"
)

const (
	PDFExtension   = ".pdf"
	TempFilePrefix = ".pic2pdf-"
	JobIDPrefix    = "export-"
)

var (
	ErrNothingToExport = errors.New("nothing to export")
	ErrJobNotFound     = errors.New("export job not found")
)

// Request describes one export.
type Request struct {
	Entries   []session.Entry
	Settings  session.Settings
	OutputDir string
}

// Job is a snapshot of an export job.
type Job struct {
	ID         string
	Status     Status
	Progress   float64
	Pages      int
	Bytes      int64
	Skipped    []*compose.ImageError
	OutputPath string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

type Options struct {
	// Compose carries page and image options; Scale, Quality and Title are
	// taken from each request.
	Compose compose.Options
	// Policy is the per-image recovery policy, "strict" or "lenient".
	Policy  string
	Writer  writer.Config
	Session *session.Session
	Logger  observability.Logger
	Tracer  observability.Tracer
}

type job struct {
	Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Service runs at most one export at a time. Starting a new export cancels
// the one in progress.
type Service struct {
	opts     Options
	mu       sync.RWMutex
	jobs     map[string]*job
	current  string
	onUpdate func(Job)
	wg       sync.WaitGroup
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NopTracer()
	}
	return &Service{
		opts: opts,
		jobs: make(map[string]*job),
	}
}

// SetUpdateCallback sets the function invoked on every status or progress
// change. It runs on the job goroutine.
func (s *Service) SetUpdateCallback(callback func(Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = callback
}

// NormalizeFilename trims name and appends ".pdf" unless it already ends
// with it, in any case.
func NormalizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty filename", ErrNothingToExport)
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("filename %q must not contain path separators", name)
	}
	if !strings.HasSuffix(strings.ToLower(name), PDFExtension) {
		name += PDFExtension
	}
	return name, nil
}

// Start validates req, cancels any running job and launches a new one.
func (s *Service) Start(req Request) (Job, error) {
	if len(req.Entries) == 0 {
		return Job{}, fmt.Errorf("%w: no images", ErrNothingToExport)
	}
	filename, err := NormalizeFilename(req.Settings.Filename)
	if err != nil {
		return Job{}, err
	}
	dir := req.OutputDir
	if dir == "" {
		dir = "."
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		Job: Job{
			ID:         generateJobID(),
			Status:     StatusPending,
			OutputPath: filepath.Join(dir, filename),
			StartedAt:  time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if prev, ok := s.jobs[s.current]; ok && prev.Status.IsActive() {
		prev.cancel()
		s.opts.Logger.Info("export replaced", observability.String("job", prev.ID), observability.String("next", j.ID))
	}
	s.jobs[j.ID] = j
	s.current = j.ID
	snapshot := j.Job
	s.mu.Unlock()

	if s.opts.Session != nil {
		s.opts.Session.SetBusy(true)
	}
	s.notify(snapshot)

	s.wg.Add(1)
	go s.run(ctx, j, req, filename)
	return snapshot, nil
}

// StartSession exports the current entries and settings of the bound session.
func (s *Service) StartSession(outputDir string) (Job, error) {
	if s.opts.Session == nil {
		return Job{}, errors.New("no session bound to the export service")
	}
	return s.Start(Request{
		Entries:   s.opts.Session.Entries(),
		Settings:  s.opts.Session.Settings(),
		OutputDir: outputDir,
	})
}

// Cancel stops the job with id. Cancelling a finished job is a no-op.
func (s *Service) Cancel(id string) error {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	j.cancel()
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (Job, error) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-j.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return j.Job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (s *Service) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.Job, true
}

// Close cancels the running job and waits for it to clean up.
func (s *Service) Close() {
	s.mu.RLock()
	for _, j := range s.jobs {
		if j.Status.IsActive() {
			j.cancel()
		}
	}
	s.mu.RUnlock()
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, j *job, req Request, filename string) {
	defer s.wg.Done()
	defer close(j.done)
	defer j.cancel()

	ctx, span := s.opts.Tracer.StartSpan(ctx, observability.SpanExport)
	defer span.Finish()
	logger := s.opts.Logger.With(observability.String("job", j.ID))
	start := time.Now()

	s.update(j, func(j *Job) { j.Status = StatusRunning })
	logger.Info("export started",
		observability.Int("images", len(req.Entries)),
		observability.String("output", j.OutputPath),
	)

	pages, skipped, err := s.generate(ctx, j, req, filename, logger)

	s.update(j, func(j *Job) {
		j.FinishedAt = time.Now()
		j.Skipped = skipped
		switch {
		case err == nil:
			j.Status = StatusCompleted
			j.Progress = 1
			j.Pages = pages
		case ctx.Err() != nil:
			j.Status = StatusCancelled
			j.Err = ctx.Err()
		default:
			j.Status = StatusFailed
			j.Err = err
		}
	})

	final, _ := s.Get(j.ID)
	switch final.Status {
	case StatusCompleted:
		logger.Info("export completed",
			observability.Int(observability.MetricPageCount, pages),
			observability.Duration("took", time.Since(start)),
		)
	case StatusCancelled:
		logger.Info("export cancelled")
	case StatusFailed:
		span.SetError(err)
		logger.Error("export failed", observability.Error("error", err))
	}
	s.reportToSession(final)
}

// generate composes and writes the document. It returns the page count.
func (s *Service) generate(ctx context.Context, j *job, req Request, filename string, logger observability.Logger) (int, []*compose.ImageError, error) {
	strategy, err := recovery.Parse(s.opts.Policy)
	if err != nil {
		return 0, nil, err
	}
	opts := s.opts.Compose
	opts.Scale = req.Settings.Scale
	opts.Quality = session.NormalizeQuality(req.Settings.Quality)
	opts.Title = filename[:len(filename)-len(PDFExtension)]
	opts.Recovery = strategy
	opts.Logger = logger
	opts.Tracer = s.opts.Tracer
	opts.Progress = func(done, total int) {
		// writing the file accounts for the last tenth
		s.update(j, func(j *Job) { j.Progress = max(j.Progress, 0.9*float64(done)/float64(total)) })
	}

	inputs := make([]compose.Input, len(req.Entries))
	for i, e := range req.Entries {
		inputs[i] = compose.Input{Name: e.Name, Source: e.Source}
	}
	res, err := compose.New(opts).Compose(ctx, inputs)
	if err != nil {
		return 0, nil, err
	}

	n, err := s.writeFile(ctx, j.OutputPath, res)
	if err != nil {
		return 0, res.Skipped, err
	}
	s.update(j, func(j *Job) { j.Bytes = n })
	return len(res.Document.Pages), res.Skipped, nil
}

// writeFile writes into a temp file next to path and renames it into place.
// It returns the number of object bytes written.
func (s *Service) writeFile(ctx context.Context, path string, res *compose.Result) (n int64, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), TempFilePrefix+"*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	start := time.Now()
	counter := &byteCounter{}
	w := (&writer.WriterBuilder{}).WithInterceptor(counter).Build()
	if err = w.Write(ctx, res.Document, tmp, s.opts.Writer); err != nil {
		return 0, fmt.Errorf("write pdf: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("close output: %w", err)
	}
	if err = ctx.Err(); err != nil {
		return 0, err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("move output into place: %w", err)
	}
	s.opts.Logger.Debug("pdf written",
		observability.String("path", path),
		observability.Int64("bytes", counter.total),
		observability.Duration(observability.MetricWriteTime, time.Since(start)),
	)
	return counter.total, nil
}

func (s *Service) reportToSession(j Job) {
	sess := s.opts.Session
	if sess == nil {
		return
	}
	for _, ie := range j.Skipped {
		sess.AddError((&imagefile.FileError{Name: ie.Name, Err: ie.Err}).Message())
	}
	if j.Status == StatusFailed {
		sess.AddError(FailureMessage(j.Err))
	}
	s.mu.RLock()
	current := s.current == j.ID
	s.mu.RUnlock()
	if current {
		sess.SetBusy(false)
	}
}

// FailureMessage renders the user-facing text for a failed export.
func FailureMessage(err error) string {
	return fmt.Sprintf("An error occurred while generating the PDF: %v", err)
}

func (s *Service) update(j *job, fn func(*Job)) {
	s.mu.Lock()
	fn(&j.Job)
	snapshot := j.Job
	s.mu.Unlock()
	s.notify(snapshot)
}

func (s *Service) notify(j Job) {
	s.mu.RLock()
	cb := s.onUpdate
	s.mu.RUnlock()
	if cb != nil {
		cb(j)
	}
}

// generateJobID uses UUID v7 so ids sort by creation time.
func generateJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf(JobIDPrefix+"%d", time.Now().UnixNano())
	}
	return JobIDPrefix + id.String()
}

// byteCounter totals the bytes of every serialized object.
type byteCounter struct {
	total int64
}

func (b *byteCounter) BeforeWrite(ctx writer.Context, obj raw.Object) error { return nil }

func (b *byteCounter) AfterWrite(ctx writer.Context, obj raw.Object, n int64) error {
	b.total += n
	return nil
}
