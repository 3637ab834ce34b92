package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts counts every attempt, the first one included.
	MaxAttempts int `yaml:"max_attempts"`
	// BaseDelay is the nominal delay after the first failure.
	BaseDelay time.Duration `yaml:"base_delay"`
	// CapDelay bounds every computed delay.
	CapDelay time.Duration `yaml:"cap_delay"`
	// MaxTotalDuration bounds the whole run, 0 = unbounded.
	MaxTotalDuration time.Duration `yaml:"max_total_duration"`
	// JitterFraction spreads delays by ±fraction, in [0,1].
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// DefaultConfig provides sensible defaults for calls made inside one invocation.
var DefaultConfig = Config{
	MaxAttempts:      3,
	BaseDelay:        200 * time.Millisecond,
	CapDelay:         5 * time.Second,
	MaxTotalDuration: 30 * time.Second,
	JitterFraction:   0.2,
}

// UnmarshalYAML starts from DefaultConfig, so a partial section only overrides
// the fields it names and an explicit 0 keeps its meaning.
func (c *Config) UnmarshalYAML(unmarshal func(any) error) error {
	type plain Config
	p := plain(DefaultConfig)
	if err := unmarshal(&p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// WithDefaults fills zero fields from DefaultConfig and clamps the jitter fraction.
func (c Config) WithDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultConfig.BaseDelay
	}
	if c.CapDelay <= 0 {
		c.CapDelay = DefaultConfig.CapDelay
	}
	if c.CapDelay < c.BaseDelay {
		c.CapDelay = c.BaseDelay
	}
	if c.MaxTotalDuration < 0 {
		c.MaxTotalDuration = 0
	}
	c.JitterFraction = math.Min(math.Max(c.JitterFraction, 0), 1)
	return c
}

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
	Class ErrorClass
	Err   error
}

// Policy decides whether a failed attempt is retried and how long to wait.
type Policy struct {
	cfg        Config
	classifier Classifier
	randFloat  func() float64
}

// PolicyOption customises a Policy.
type PolicyOption func(p *Policy)

// WithClassifier replaces the default error classifier.
func WithClassifier(c Classifier) PolicyOption {
	return func(p *Policy) {
		if c != nil {
			p.classifier = c
		}
	}
}

// WithRand replaces the jitter source. fn must return values in [0,1).
func WithRand(fn func() float64) PolicyOption {
	return func(p *Policy) {
		if fn != nil {
			p.randFloat = fn
		}
	}
}

// NewPolicy creates a policy from cfg, filling unset fields with defaults.
func NewPolicy(cfg Config, opts ...PolicyOption) *Policy {
	p := &Policy{
		cfg:        cfg.WithDefaults(),
		classifier: Chain(DefaultClassifier),
		randFloat:  rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Classify returns the class of err under this policy.
func (p *Policy) Classify(err error) ErrorClass {
	return p.classifier(err)
}

// Decide is consulted after attempt (1-indexed) failed with err, elapsed after the first
// attempt started.
func (p *Policy) Decide(err error, attempt int, elapsed time.Duration) Decision {
	class := p.classifier(err)
	if class == ClassPermanent {
		return Decision{Class: class, Err: err}
	}

	if attempt >= p.cfg.MaxAttempts {
		return Decision{Class: class, Err: err}
	}

	delay := p.Backoff(attempt)
	if p.cfg.MaxTotalDuration > 0 && elapsed+delay > p.cfg.MaxTotalDuration {
		return Decision{Class: class, Err: err}
	}

	return Decision{Retry: true, Delay: delay, Class: class}
}

// NominalDelay is Base * 2^(attempt-1) capped at CapDelay, without jitter.
func (p *Policy) NominalDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.cfg.CapDelay) {
		return p.cfg.CapDelay
	}
	return time.Duration(delay)
}

// Backoff returns the jittered delay before attempt+1, always within [0, CapDelay].
func (p *Policy) Backoff(attempt int) time.Duration {
	nominal := p.NominalDelay(attempt)
	if p.cfg.JitterFraction == 0 {
		return nominal
	}

	// factor in [1-j, 1+j)
	factor := 1 + p.cfg.JitterFraction*(2*p.randFloat()-1)
	delay := time.Duration(float64(nominal) * factor)
	if delay < 0 {
		return 0
	}
	if delay > p.cfg.CapDelay {
		return p.cfg.CapDelay
	}
	return delay
}
