package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/wudi/pic2pdf/compose"
	"github.com/wudi/pic2pdf/config"
	"github.com/wudi/pic2pdf/export"
	"github.com/wudi/pic2pdf/observability"
	"github.com/wudi/pic2pdf/security"
	"github.com/wudi/pic2pdf/session"
	"github.com/wudi/pic2pdf/writer"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// move is a 1-based reorder request, applied after loading.
type move struct{ from, to int }

type moveList []move

func (m *moveList) String() string {
	parts := make([]string, len(*m))
	for i, mv := range *m {
		parts[i] = fmt.Sprintf("%d:%d", mv.from, mv.to)
	}
	return strings.Join(parts, ",")
}

func (m *moveList) Set(v string) error {
	from, to, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("want from:to, got %q", v)
	}
	f, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return fmt.Errorf("bad position %q", from)
	}
	t, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return fmt.Errorf("bad position %q", to)
	}
	*m = append(*m, move{from: f, to: t})
	return nil
}

type options struct {
	configPath string
	saveConfig bool
	moves      moveList
	images     []string
	// set holds the names of flags given on the command line.
	set map[string]bool

	filename      string
	dir           string
	author        string
	subject       string
	keywords      string
	scale         string
	quality       float64
	page          string
	orientation   string
	margin        float64
	maxPPI        float64
	lenient       bool
	deterministic bool
	logLevel      string
	logFormat     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "pic2pdf: %v\n", err)
		return exitUsage
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "pic2pdf: %v\n", err)
		return exitUsage
	}
	if opts.saveConfig {
		if err := config.Save(cfg, opts.configPath); err != nil {
			fmt.Fprintf(stderr, "pic2pdf: %v\n", err)
			return exitFailure
		}
		if len(opts.images) == 0 {
			return exitOK
		}
	}
	if len(opts.images) == 0 {
		fmt.Fprintf(stderr, "pic2pdf: no images given\n")
		return exitUsage
	}
	logger, err := observability.NewTextLogger(stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(stderr, "pic2pdf: %v\n", err)
		return exitUsage
	}
	if err := convert(ctx, opts, cfg, logger, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "pic2pdf: %v\n", err)
		if errors.Is(err, errUsage) {
			return exitUsage
		}
		return exitFailure
	}
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("pic2pdf", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pic2pdf [flags] <image>...\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.filename, "o", "", "Output filename; .pdf is appended when missing")
	fs.StringVar(&opts.filename, "name", "", "Alias for -o")
	fs.StringVar(&opts.dir, "dir", "", "Output directory")
	fs.StringVar(&opts.author, "author", "", "Document author")
	fs.StringVar(&opts.subject, "subject", "", "Document subject")
	fs.StringVar(&opts.keywords, "keywords", "", "Comma-separated document keywords")
	fs.StringVar(&opts.scale, "scale", "", "Page scaling: contain|cover (or fit|fill)")
	fs.Float64Var(&opts.quality, "quality", 0, "JPEG quality between 0.1 and 1")
	fs.StringVar(&opts.page, "page", "", "Page size: "+strings.Join(compose.PageSizeNames(), "|"))
	fs.StringVar(&opts.orientation, "orientation", "", "Page orientation: portrait|landscape|auto")
	fs.Float64Var(&opts.margin, "margin", 0, "Margin in points around contained images")
	fs.Float64Var(&opts.maxPPI, "max-ppi", 0, "Downsample images above this density (0 keeps resolution)")
	fs.BoolVar(&opts.lenient, "lenient", false, "Skip images that fail to convert instead of aborting")
	fs.BoolVar(&opts.deterministic, "deterministic", false, "Produce byte-identical output for identical input")
	fs.StringVar(&opts.configPath, "config", "", "Config file (default $PIC2PDF_CONFIG or ~/.config/pic2pdf/config.toml)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format: text|json")
	fs.Var(&opts.moves, "move", "Move image from:to, 1-based; repeatable, applied in order")
	fs.BoolVar(&opts.saveConfig, "save-config", false, "Write the effective configuration to the config file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.images = fs.Args()
	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// loadConfig layers command-line flags over file and environment values.
func loadConfig(opts options) (config.Config, error) {
	load := config.Load
	if opts.saveConfig {
		load = config.LoadOptional
	}
	cfg, err := load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.set["o"] || opts.set["name"] {
		cfg.Output.Filename = opts.filename
	}
	if opts.set["dir"] {
		cfg.Output.Dir = opts.dir
	}
	if opts.set["author"] {
		cfg.Output.Author = opts.author
	}
	if opts.set["subject"] {
		cfg.Output.Subject = opts.subject
	}
	if opts.set["keywords"] {
		cfg.Output.Keywords = splitKeywords(opts.keywords)
	}
	if opts.set["scale"] {
		cfg.Image.Scale = opts.scale
	}
	if opts.set["quality"] {
		cfg.Image.Quality = opts.quality
	}
	if opts.set["page"] {
		cfg.Page.Size = opts.page
	}
	if opts.set["orientation"] {
		cfg.Page.Orientation = opts.orientation
	}
	if opts.set["margin"] {
		cfg.Page.Margin = opts.margin
	}
	if opts.set["max-ppi"] {
		cfg.Image.MaxPPI = opts.maxPPI
	}
	if opts.set["lenient"] {
		cfg.Export.Policy = "strict"
		if opts.lenient {
			cfg.Export.Policy = "lenient"
		}
	}
	if opts.set["deterministic"] {
		cfg.Export.Deterministic = opts.deterministic
	}
	if opts.set["log-level"] {
		cfg.Log.Level = opts.logLevel
	}
	if opts.set["log-format"] {
		cfg.Log.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

var errUsage = errors.New("usage")

func convert(ctx context.Context, opts options, cfg config.Config, logger observability.Logger, stdout, stderr io.Writer) error {
	limits := security.DefaultLimits()
	sess := session.New(session.Options{Accept: cfg.Image.Accept, Limits: limits, Logger: logger})
	defer sess.Close()

	files := make([]session.File, len(opts.images))
	for i, path := range opts.images {
		files[i] = session.FromPath(path)
	}
	sess.AddFiles(ctx, files)
	for _, mv := range opts.moves {
		if err := sess.Move(mv.from-1, mv.to-1); err != nil {
			return fmt.Errorf("%w: -move %d:%d: %v", errUsage, mv.from, mv.to, err)
		}
	}

	scale, err := compose.ParseScaleMode(cfg.Image.Scale)
	if err != nil {
		return err
	}
	sess.SetFilename(cfg.Output.Filename)
	sess.SetScale(scale)
	sess.SetQuality(cfg.Image.Quality)

	for _, msg := range sess.Errors() {
		fmt.Fprintln(stderr, msg)
	}
	reported := len(sess.Errors())
	if !sess.CanExport() {
		return errors.New("no valid images to export")
	}

	composeOpts, err := composeOptions(cfg, limits)
	if err != nil {
		return err
	}
	svc := export.NewService(export.Options{
		Compose: composeOpts,
		Policy:  cfg.Export.Policy,
		Writer: writer.Config{
			Compression:   cfg.Export.Compression,
			Deterministic: cfg.Export.Deterministic,
		},
		Session: sess,
		Logger:  logger,
	})
	defer svc.Close()

	job, err := svc.StartSession(cfg.Output.Dir)
	if err != nil {
		return err
	}
	done, err := svc.Wait(ctx, job.ID)
	if err != nil {
		svc.Cancel(job.ID)
		cleanup, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Wait(cleanup, job.ID)
		return fmt.Errorf("export cancelled")
	}

	for _, msg := range sess.Errors()[reported:] {
		fmt.Fprintln(stderr, msg)
	}
	switch done.Status {
	case export.StatusCompleted:
		fmt.Fprintln(stdout, done.OutputPath)
		return nil
	case export.StatusCancelled:
		return fmt.Errorf("export cancelled")
	default:
		return fmt.Errorf("export failed")
	}
}

func composeOptions(cfg config.Config, limits security.Limits) (compose.Options, error) {
	page, err := compose.LookupPageSize(cfg.Page.Size)
	if err != nil {
		return compose.Options{}, err
	}
	orientation, err := compose.ParseOrientation(cfg.Page.Orientation)
	if err != nil {
		return compose.Options{}, err
	}
	bg, err := cfg.BackgroundColor()
	if err != nil {
		return compose.Options{}, err
	}
	return compose.Options{
		Page:        page,
		Orientation: orientation,
		Margin:      cfg.Page.Margin,
		MaxPPI:      cfg.Image.MaxPPI,
		Background:  bg,
		Concurrency: cfg.Export.Concurrency,
		Author:      cfg.Output.Author,
		Subject:     cfg.Output.Subject,
		Keywords:    cfg.Output.Keywords,
		Limits:      limits,
	}, nil
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
