package log

import (
	"fmt"
	"strings"
)

// Config is the declarative form of a logger.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
	// Output is "stderr" (default), "null", or a file path.
	Output string `json:"output" yaml:"output"`

	RedactKeys       []string `json:"redact_keys,omitempty" yaml:"redact_keys,omitempty"`
	SampleInitial    int      `json:"sample_initial,omitempty" yaml:"sample_initial,omitempty"`
	SampleThereafter int      `json:"sample_thereafter,omitempty" yaml:"sample_thereafter,omitempty"`
}

// ApplyConfig builds a Logger from cfg. A nil cfg yields an info-level text
// logger on stderr.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, ok := ParseLevel(cfg.Level)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	opts := []LoggerOption{WithLevel(level)}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		opts = append(opts, WithFormatter(&TextFormatter{}))
	case "json":
		opts = append(opts, WithFormatter(&JSONFormatter{}))
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	switch strings.ToLower(cfg.Output) {
	case "", "stderr", "console":
		opts = append(opts, WithOutput(NewConsoleOutput()))
	case "null", "none":
		opts = append(opts, WithOutput(NullOutput{}))
	default:
		out, err := NewFileOutput(cfg.Output)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithOutput(out))
	}

	if len(cfg.RedactKeys) > 0 {
		opts = append(opts, WithRedactedKeys(cfg.RedactKeys...))
	}
	if cfg.SampleThereafter > 0 {
		opts = append(opts, WithSampling(cfg.SampleInitial, cfg.SampleThereafter))
	}
	return NewLogger(opts...), nil
}
