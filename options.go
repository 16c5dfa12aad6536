package imgsieve

// options collects the knobs shared by Open and NewSession.
type options struct {
	logger           *Logger
	gridRows         int
	gridCols         int
	randomSuggChance float64
	alRatio          float64
	seed             int64
}

func defaultOptions() options {
	return options{
		logger: NoopLogger(),
	}
}

// Option configures collection and session behavior.
type Option func(*options)

// WithLogger configures structured logging. If nil is passed, logging stays
// disabled.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithGridSize sets the initial grid dimensions for new sessions.
// Out-of-range values fall back to the defaults.
func WithGridSize(rows, cols int) Option {
	return func(o *options) {
		o.gridRows = rows
		o.gridCols = cols
	}
}

// WithRandomSuggChance sets the share of candidates per round drawn from the
// random explorer instead of the bucket models.
func WithRandomSuggChance(chance float64) Option {
	return func(o *options) {
		o.randomSuggChance = chance
	}
}

// WithALRatio sets the chance per suggestion slot of surfacing an
// active-learning query instead of a top-confidence pick.
func WithALRatio(ratio float64) Option {
	return func(o *options) {
		o.alRatio = ratio
	}
}

// WithSeed fixes the random source for new sessions, making explorer picks
// and active-learning dice reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}
