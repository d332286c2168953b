package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/vango-dev/vstore/internal/errors"
	"github.com/vango-dev/vstore/pkg/mutexbox"
)

const (
	// DefaultProfile is used when neither a file nor a flag names one.
	DefaultProfile = "standard"

	// DefaultMetricsAddr is the listen address of the metrics endpoint.
	DefaultMetricsAddr = "127.0.0.1:9464"

	// DefaultOutput writes the JSON report to stdout.
	DefaultOutput = "-"

	// MaxScopes bounds Scopes; each scope owns one slot of the bench value.
	MaxScopes = 64

	gib = ByteSize(1024 * 1024 * 1024)
)

// Bench configures one run of the store benchmark.
type Bench struct {
	// Profile is the preset the run started from.
	Profile string `mapstructure:"profile"`

	// Writers is the number of goroutines committing updates.
	Writers int `mapstructure:"writers"`

	// Subscribers is the number of subscribers on the root store.
	Subscribers int `mapstructure:"subscribers"`

	// Scopes is the number of scoped stores, each with one subscriber.
	Scopes int `mapstructure:"scopes"`

	// Duration is how long writers run.
	Duration time.Duration `mapstructure:"duration"`

	// Rate is the target updates per second per writer. Zero runs unthrottled.
	Rate float64 `mapstructure:"rate"`

	// Recursion is how many follow-up commits a subscriber issues from
	// inside its callback for every external commit.
	Recursion int `mapstructure:"recursion"`

	// Strategy is the root box's exclusion strategy.
	Strategy string `mapstructure:"strategy"`

	// Redirect delivers subscriber callbacks on a serial queue instead of
	// the committing goroutine.
	Redirect bool `mapstructure:"redirect"`

	// MaxProcs caps GOMAXPROCS (0 leaves it unchanged).
	MaxProcs int `mapstructure:"max_procs"`

	// MemLimit sets GOMEMLIMIT (0 leaves it unchanged).
	MemLimit ByteSize `mapstructure:"mem_limit"`

	// Output is the JSON report path ("-" for stdout, "" to skip).
	Output string `mapstructure:"output"`

	// Trace exports commit spans to stderr.
	Trace bool `mapstructure:"trace"`

	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics for the duration of the run.
	Enabled bool `mapstructure:"enabled"`

	// Addr is the listen address.
	Addr string `mapstructure:"addr"`
}

// LogConfig configures the run's logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is text or json.
	Format string `mapstructure:"format"`
}

var profiles = map[string]Bench{
	"fast": {
		Profile:     "fast",
		Writers:     4,
		Subscribers: 4,
		Scopes:      2,
		Duration:    5 * time.Second,
		Recursion:   1,
		Strategy:    mutexbox.RWLock.String(),
	},
	"standard": {
		Profile:     "standard",
		Writers:     16,
		Subscribers: 16,
		Scopes:      8,
		Duration:    30 * time.Second,
		Recursion:   2,
		Strategy:    mutexbox.RWLock.String(),
	},
	"stress": {
		Profile:     "stress",
		Writers:     64,
		Subscribers: 64,
		Scopes:      32,
		Duration:    60 * time.Second,
		Recursion:   4,
		Strategy:    mutexbox.SpinLock.String(),
		Redirect:    true,
		MaxProcs:    4,
		MemLimit:    2 * gib,
	},
}

// Profiles returns the names of the built-in profiles, sorted.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Profile returns the named preset with defaults applied.
func Profile(name string) (Bench, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultProfile
	}
	b, ok := profiles[key]
	if !ok {
		return Bench{}, errors.New("E304").
			WithDetailf("profile %q", name).
			WithSuggestion("Use one of: " + strings.Join(Profiles(), ", "))
	}
	b.applyDefaults()
	return b, nil
}

// Default returns the standard profile.
func Default() Bench {
	b, _ := Profile(DefaultProfile)
	return b
}

// applyDefaults fills in values no profile sets.
func (b *Bench) applyDefaults() {
	if b.Output == "" {
		b.Output = DefaultOutput
	}
	if b.Metrics.Addr == "" {
		b.Metrics.Addr = DefaultMetricsAddr
	}
	if b.Log.Level == "" {
		b.Log.Level = "info"
	}
	if b.Log.Format == "" {
		b.Log.Format = "text"
	}
}

// Validate checks that the configuration describes a runnable benchmark.
func (b *Bench) Validate() error {
	invalid := func(detail string) *errors.StoreError {
		return errors.New("E302").WithDetail(detail)
	}

	switch {
	case b.Writers <= 0:
		return invalid("writers must be > 0")
	case b.Subscribers < 0:
		return invalid("subscribers must be >= 0")
	case b.Scopes < 0 || b.Scopes > MaxScopes:
		return invalid(fmt.Sprintf("scopes must be between 0 and %d", MaxScopes))
	case b.Duration <= 0:
		return invalid("duration must be > 0")
	case b.Rate < 0:
		return invalid("rate must be >= 0")
	case b.Recursion < 0:
		return invalid("recursion must be >= 0")
	case b.MaxProcs < 0:
		return invalid("max_procs must be >= 0")
	case b.MemLimit < 0:
		return invalid("mem_limit must be >= 0")
	}

	if _, err := mutexbox.ParseStrategy(b.Strategy); err != nil {
		return err
	}
	if _, err := b.LogLevel(); err != nil {
		return err
	}
	if b.Log.Format != "text" && b.Log.Format != "json" {
		return invalid("log.format must be text or json").
			WithSuggestion("Use --log-format=text or --log-format=json")
	}
	if b.Metrics.Enabled && b.Metrics.Addr == "" {
		return invalid("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// BoxStrategy returns the parsed Strategy.
func (b *Bench) BoxStrategy() mutexbox.Strategy {
	s, err := mutexbox.ParseStrategy(b.Strategy)
	if err != nil {
		return mutexbox.RWLock
	}
	return s
}

// LogLevel parses Log.Level.
func (b *Bench) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(b.Log.Level)); err != nil {
		return 0, errors.New("E302").
			WithDetailf("log.level %q", b.Log.Level).
			WithSuggestion("Use debug, info, warn or error")
	}
	return level, nil
}

// Interval is the pause between a writer's commits, or zero when
// unthrottled.
func (b *Bench) Interval() time.Duration {
	if b.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / b.Rate)
}
