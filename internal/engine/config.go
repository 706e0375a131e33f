package engine

import (
	"math"
	"strings"
)

// Mode selects the percentile estimator.
type Mode string

const (
	// ModeBatch keeps every value and answers exact nearest-rank quantiles.
	ModeBatch Mode = "batch"
	// ModeStreaming keeps a bounded histogram with a relative error bound.
	ModeStreaming Mode = "streaming"
	// ModeAuto is resolved to batch or streaming from the input size
	// before analysis starts. Estimators never run in auto mode.
	ModeAuto Mode = "auto"
)

// Line formats understood by NewParser.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const (
	DefaultK          = 20
	DefaultErrorBound = 0.01
	DefaultResolution = 1e-6
	DefaultJSONField  = "request_time"
	DefaultBatchLimit = 256 << 20

	// Highest latency the streaming histogram tracks, in Resolution units.
	// With the default resolution this is 1e6 seconds.
	streamingHighest = int64(1e12)
)

// DefaultQuantiles are P50, P95 and P99.
var DefaultQuantiles = []float64{0.50, 0.95, 0.99}

// Config holds every knob of an analysis run.
type Config struct {
	K          int       `json:"k"`
	Quantiles  []float64 `json:"quantiles"`
	Mode       Mode      `json:"mode"`
	ErrorBound float64   `json:"error_bound"`
	Resolution float64   `json:"resolution"`
	MinTokens  int       `json:"min_tokens"`
	Format     string    `json:"format"`
	JSONField  string    `json:"json_field,omitempty"`
	Filter     string    `json:"filter,omitempty"`
	// Bucket upper bounds for the latency histogram. Nil uses DefaultBuckets.
	Buckets []float64 `json:"buckets,omitempty"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		K:          DefaultK,
		Quantiles:  append([]float64(nil), DefaultQuantiles...),
		Mode:       ModeBatch,
		ErrorBound: DefaultErrorBound,
		Resolution: DefaultResolution,
		MinTokens:  1,
		Format:     FormatText,
	}
}

// Validate checks the configuration before any input is read.
func (c Config) Validate() error {
	if err := c.validateReport(); err != nil {
		return err
	}
	switch c.Mode {
	case ModeBatch:
	case ModeStreaming:
		if _, err := significantFigures(c.ErrorBound); err != nil {
			return err
		}
		if math.IsNaN(c.Resolution) || math.IsInf(c.Resolution, 0) || c.Resolution <= 0 {
			return configErrorf("resolution", "must be a positive number, got %v", c.Resolution)
		}
	case ModeAuto:
		return configErrorf("mode", "auto must be resolved before analysis")
	default:
		return configErrorf("mode", "unknown mode %q", c.Mode)
	}
	if c.MinTokens < 0 {
		return configErrorf("min_tokens", "must not be negative, got %d", c.MinTokens)
	}
	switch c.Format {
	case "", FormatText, FormatJSON:
	default:
		return configErrorf("format", "unknown format %q", c.Format)
	}
	for i, b := range c.Buckets {
		if math.IsNaN(b) || b <= 0 || (i > 0 && b <= c.Buckets[i-1]) {
			return configErrorf("buckets", "bounds must be positive and strictly increasing")
		}
	}
	if strings.TrimSpace(c.Filter) != "" {
		if _, err := ParseFilter(c.Filter); err != nil {
			return configErrorf("filter", "%v", err)
		}
	}
	return nil
}

// validateReport checks the settings that shape a report: k and the
// quantile set. Combining stored partials needs nothing else.
func (c Config) validateReport() error {
	if c.K <= 0 {
		return configErrorf("k", "must be positive, got %d", c.K)
	}
	if len(c.Quantiles) == 0 {
		return configErrorf("quantiles", "at least one quantile is required")
	}
	for _, q := range c.Quantiles {
		if math.IsNaN(q) || q < 0 || q > 1 {
			return configErrorf("quantiles", "%v is outside [0, 1]", q)
		}
	}
	return nil
}

// ResolveMode picks batch below limit bytes of input and streaming above.
// Any mode other than auto is returned unchanged.
func ResolveMode(mode Mode, inputBytes, limit int64) Mode {
	if mode != ModeAuto {
		return mode
	}
	if limit > 0 && inputBytes >= limit {
		return ModeStreaming
	}
	return ModeBatch
}

// NewParser builds the line parser selected by the configuration.
func (c Config) NewParser() LineParser {
	if c.Format == FormatJSON {
		return NewJSONParser(c.JSONField)
	}
	return TokenParser{MinTokens: c.MinTokens}
}

// significantFigures maps a relative error bound to HdrHistogram precision.
func significantFigures(bound float64) (int, error) {
	if math.IsNaN(bound) || bound <= 0 || bound >= 1 {
		return 0, configErrorf("error_bound", "must be within (0, 1), got %v", bound)
	}
	digits := int(math.Ceil(-math.Log10(bound) - 1e-9))
	if digits < 1 {
		digits = 1
	}
	if digits > 5 {
		return 0, configErrorf("error_bound", "%v is finer than the supported 1e-5", bound)
	}
	return digits, nil
}
