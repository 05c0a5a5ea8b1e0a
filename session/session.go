// Package session holds the images and settings a user edits before
// exporting them as a PDF.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wudi/pic2pdf/compose"
	"github.com/wudi/pic2pdf/imagefile"
	"github.com/wudi/pic2pdf/observability"
	"github.com/wudi/pic2pdf/security"
)

const (
	DefaultFilename = "Pic2PDF_Export"
	DefaultQuality  = 0.8
	MinQuality      = 0.1
	MaxQuality      = 1.0
	QualityStep     = 0.05
)

var ErrIndexOutOfRange = errors.New("index out of range")

// Source gives access to an image payload. Sources that also implement
// io.Closer are closed when their entry leaves the session.
type Source interface {
	Open() (io.ReadCloser, error)
}

// File is a user-selected file waiting to be validated.
type File struct {
	Name   string
	Source Source
}

// BytesSource serves an in-memory payload.
type BytesSource []byte

func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// PathSource reads the payload from disk on every Open.
type PathSource string

func (p PathSource) Open() (io.ReadCloser, error) { return os.Open(string(p)) }

// FromPath builds a File named after the base of path.
func FromPath(path string) File {
	name := path
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		name = path[i+1:]
	}
	return File{Name: name, Source: PathSource(path)}
}

// Entry is one accepted image.
type Entry struct {
	ID     string
	Name   string
	MIME   string
	Width  int
	Height int
	Size   int64
	Source Source
}

type Settings struct {
	Filename string
	Scale    compose.ScaleMode
	Quality  float64
}

func DefaultSettings() Settings {
	return Settings{Filename: DefaultFilename, Scale: compose.Contain, Quality: DefaultQuality}
}

type Options struct {
	Accept []string
	Limits security.Limits
	Logger observability.Logger
}

// Session is safe for concurrent use.
type Session struct {
	mu       sync.RWMutex
	entries  []Entry
	errors   []string
	settings Settings
	busy     bool
	opts     Options
}

func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	return &Session{settings: DefaultSettings(), opts: opts}
}

// AddFiles validates files in order, appends the accepted ones and records a
// message for every rejection. It returns the accepted entries.
func (s *Session) AddFiles(ctx context.Context, files []File) []Entry {
	var added []Entry
	var messages []string
	for i, f := range files {
		if ctx.Err() != nil {
			s.abandon(files[i:])
			break
		}
		entry, err := s.inspect(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				s.abandon(files[i:])
				break
			}
			messages = append(messages, userMessage(f.Name, err))
			release(f.Source)
			s.opts.Logger.Info("file rejected", observability.String("name", f.Name), observability.Error("error", err))
			continue
		}
		added = append(added, entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.opts.Limits.ValidateImageCount(len(s.entries) + len(added)); err != nil {
		room := max(0, s.opts.Limits.MaxImages-len(s.entries))
		for _, e := range added[room:] {
			messages = append(messages, fmt.Sprintf("%q was not added: %v", e.Name, err))
			release(e.Source)
		}
		added = added[:room]
	}
	s.entries = append(s.entries, added...)
	s.errors = append(s.errors, messages...)
	return added
}

// abandon releases files left uninspected by a cancelled AddFiles.
func (s *Session) abandon(files []File) {
	for _, f := range files {
		release(f.Source)
	}
	s.opts.Logger.Info("file selection cancelled", observability.Int("skipped", len(files)))
}

func (s *Session) inspect(ctx context.Context, f File) (Entry, error) {
	if f.Source == nil {
		return Entry{}, &imagefile.FileError{Name: f.Name, Err: imagefile.ErrCorrupt}
	}
	rc, err := f.Source.Open()
	if err != nil {
		return Entry{}, &imagefile.FileError{Name: f.Name, Err: fmt.Errorf("%w: %v", imagefile.ErrCorrupt, err)}
	}
	var r io.Reader = rc
	if limit := s.opts.Limits.MaxFileSize; limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	rc.Close()
	if err != nil {
		return Entry{}, &imagefile.FileError{Name: f.Name, Err: fmt.Errorf("%w: %v", imagefile.ErrCorrupt, err)}
	}
	info, err := imagefile.Inspect(ctx, f.Name, data, imagefile.Options{
		Accept: s.opts.Accept,
		Limits: s.opts.Limits,
		Logger: s.opts.Logger,
	})
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:     uuid.NewString(),
		Name:   f.Name,
		MIME:   info.MIME,
		Width:  info.Width,
		Height: info.Height,
		Size:   info.Size,
		Source: f.Source,
	}, nil
}

func userMessage(name string, err error) string {
	var fe *imagefile.FileError
	if errors.As(err, &fe) {
		return fe.Message()
	}
	return (&imagefile.FileError{Name: name, Err: err}).Message()
}

// Remove drops the entry with id and releases its source.
func (s *Session) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			release(e.Source)
			return true
		}
	}
	return false
}

// Move removes the entry at from and inserts it at to.
func (s *Session) Move(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("move %d -> %d with %d entries: %w", from, to, n, ErrIndexOutOfRange)
	}
	if from == to {
		return nil
	}
	e := s.entries[from]
	s.entries = append(s.entries[:from], s.entries[from+1:]...)
	s.entries = append(s.entries[:to], append([]Entry{e}, s.entries[to:]...)...)
	return nil
}

func (s *Session) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Session) Errors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.errors...)
}

// AddError appends a message to the error list.
func (s *Session) AddError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}

func (s *Session) DismissError(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.errors) {
		return false
	}
	s.errors = append(s.errors[:i], s.errors[i+1:]...)
	return true
}

func (s *Session) ClearErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = nil
}

func (s *Session) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Session) SetFilename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Filename = name
}

func (s *Session) SetScale(mode compose.ScaleMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Scale = mode
}

// SetQuality clamps q to [0.1, 1] and snaps it to 0.05 steps.
func (s *Session) SetQuality(q float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Quality = NormalizeQuality(q)
}

func NormalizeQuality(q float64) float64 {
	if math.IsNaN(q) {
		return DefaultQuality
	}
	q = math.Max(MinQuality, math.Min(MaxQuality, q))
	steps := math.Round((q - MinQuality) / QualityStep)
	return math.Round((MinQuality+steps*QualityStep)*100) / 100
}

// SetBusy marks an export as running. It reports false when the session
// was already busy.
func (s *Session) SetBusy(busy bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if busy && s.busy {
		return false
	}
	s.busy = busy
	return true
}

func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

// CanExport is false while busy, with a blank filename, or with no entries.
func (s *Session) CanExport() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.busy && strings.TrimSpace(s.settings.Filename) != "" && len(s.entries) > 0
}

// Close releases every entry's source and empties the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, e := range s.entries {
		if err := release(e.Source); err != nil {
			errs = append(errs, err)
		}
	}
	s.entries = nil
	return errors.Join(errs...)
}

func release(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
