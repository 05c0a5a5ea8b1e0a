package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/spf13/viper"

	"github.com/wudi/pic2pdf/compose"
)

// EnvPrefix prefixes every environment override, e.g. PIC2PDF_IMAGE_QUALITY.
const EnvPrefix = "PIC2PDF"

// Config holds application configuration.
type Config struct {
	Output OutputConfig
	Page   PageConfig
	Image  ImageConfig
	Export ExportConfig
	Log    LogConfig
}

// OutputConfig holds output naming settings.
type OutputConfig struct {
	Filename string
	Dir      string
	// Author, Subject and Keywords fill the document information dictionary.
	Author   string
	Subject  string
	Keywords []string
}

// PageConfig holds page layout settings.
type PageConfig struct {
	Size        string
	Orientation string
	Margin      float64
	Background  string
}

// ImageConfig holds per-image conversion settings.
type ImageConfig struct {
	Scale   string
	Quality float64
	MaxPPI  float64 `mapstructure:"max_ppi"`
	Accept  []string
}

// ExportConfig holds export job settings.
type ExportConfig struct {
	Policy        string
	Concurrency   int
	Deterministic bool
	Compression   int
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.filename", "Pic2PDF_Export")
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.author", "")
	v.SetDefault("output.subject", "")
	v.SetDefault("output.keywords", []string{})
	v.SetDefault("page.size", "a4")
	v.SetDefault("page.orientation", "portrait")
	v.SetDefault("page.margin", 0.0)
	v.SetDefault("page.background", "white")
	v.SetDefault("image.scale", "contain")
	v.SetDefault("image.quality", 0.8)
	v.SetDefault("image.max_ppi", 0.0)
	v.SetDefault("image.accept", []string{"image/jpeg", "image/png"})
	v.SetDefault("export.policy", "strict")
	v.SetDefault("export.concurrency", 0)
	v.SetDefault("export.deterministic", false)
	v.SetDefault("export.compression", 6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Path returns the config file location: $PIC2PDF_CONFIG, or
// ~/.config/pic2pdf/config.toml.
func Path() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "pic2pdf", "config.toml")
}

// Load reads configuration from file and env. An explicit path must exist;
// the default location is optional. Env var overrides use prefix PIC2PDF_.
func Load(path string) (Config, error) {
	return load(path, false)
}

// LoadOptional is Load without the requirement that an explicit path exists.
func LoadOptional(path string) (Config, error) {
	return load(path, true)
}

func load(path string, optional bool) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	explicit := !optional && (path != "" || os.Getenv(EnvPrefix+"_CONFIG") != "")
	if path == "" {
		path = Path()
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Save writes cfg to path, creating the directory if needed. An empty path
// selects Path().
func Save(cfg Config, path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("output.filename", cfg.Output.Filename)
	v.Set("output.dir", cfg.Output.Dir)
	v.Set("output.author", cfg.Output.Author)
	v.Set("output.subject", cfg.Output.Subject)
	v.Set("output.keywords", cfg.Output.Keywords)
	v.Set("page.size", cfg.Page.Size)
	v.Set("page.orientation", cfg.Page.Orientation)
	v.Set("page.margin", cfg.Page.Margin)
	v.Set("page.background", cfg.Page.Background)
	v.Set("image.scale", cfg.Image.Scale)
	v.Set("image.quality", cfg.Image.Quality)
	v.Set("image.max_ppi", cfg.Image.MaxPPI)
	v.Set("image.accept", cfg.Image.Accept)
	v.Set("export.policy", cfg.Export.Policy)
	v.Set("export.concurrency", cfg.Export.Concurrency)
	v.Set("export.deterministic", cfg.Export.Deterministic)
	v.Set("export.compression", cfg.Export.Compression)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

var (
	scaleNames       = []string{"contain", "cover", "fit", "fill"}
	orientationNames = []string{"portrait", "landscape", "auto"}
	policyNames      = []string{"strict", "lenient"}
	levelNames       = []string{"debug", "info", "warn", "error"}
	formatNames      = []string{"text", "json"}
	backgroundNames  = []string{"white", "black"}
)

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	enum := func(key, value string, allowed []string) {
		v := strings.ToLower(strings.TrimSpace(value))
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown value %q%s", key, value, suggest(v, allowed)))
	}

	if strings.TrimSpace(c.Output.Filename) == "" {
		errs = append(errs, errors.New("output.filename: must not be empty"))
	}
	enum("page.size", c.Page.Size, compose.PageSizeNames())
	enum("page.orientation", c.Page.Orientation, orientationNames)
	enum("image.scale", c.Image.Scale, scaleNames)
	enum("export.policy", c.Export.Policy, policyNames)
	enum("log.level", c.Log.Level, levelNames)
	enum("log.format", c.Log.Format, formatNames)

	if c.Page.Margin < 0 {
		errs = append(errs, fmt.Errorf("page.margin: must not be negative, got %v", c.Page.Margin))
	}
	if _, err := c.BackgroundColor(); err != nil {
		errs = append(errs, fmt.Errorf("page.background: %w%s", err, suggest(strings.ToLower(c.Page.Background), backgroundNames)))
	}
	if c.Image.Quality < 0.1 || c.Image.Quality > 1 {
		errs = append(errs, fmt.Errorf("image.quality: must be within [0.1, 1], got %v", c.Image.Quality))
	}
	if c.Image.MaxPPI < 0 {
		errs = append(errs, fmt.Errorf("image.max_ppi: must not be negative, got %v", c.Image.MaxPPI))
	}
	if len(c.Image.Accept) == 0 {
		errs = append(errs, errors.New("image.accept: at least one content type is required"))
	}
	if c.Export.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("export.concurrency: must not be negative, got %d", c.Export.Concurrency))
	}
	if c.Export.Compression < 0 || c.Export.Compression > 9 {
		errs = append(errs, fmt.Errorf("export.compression: must be within [0, 9], got %d", c.Export.Compression))
	}
	return errors.Join(errs...)
}

// suggest returns a did-you-mean hint for the closest allowed value.
func suggest(value string, allowed []string) string {
	best, bestDist := "", -1
	for _, a := range allowed {
		d := levenshtein.ComputeDistance(value, a)
		if bestDist < 0 || d < bestDist {
			best, bestDist = a, d
		}
	}
	if best == "" || bestDist > max(2, len(best)/2) {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

// BackgroundColor parses Page.Background: a name or a #rrggbb hex value.
func (c Config) BackgroundColor() (color.Color, error) {
	s := strings.ToLower(strings.TrimSpace(c.Page.Background))
	switch s {
	case "", "white":
		return color.White, nil
	case "black":
		return color.Black, nil
	}
	if strings.HasPrefix(s, "#") && len(s) == 7 {
		n, err := strconv.ParseUint(s[1:], 16, 32)
		if err == nil {
			return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
		}
	}
	return nil, fmt.Errorf("invalid colour %q", c.Page.Background)
}
