// SPDX-License-Identifier: MIT

package boost

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/katalvlaran/grove/dist"
)

// ErrConfig wraps every configuration rejection; the message names the
// offending field. Match with errors.Is.
var ErrConfig = errors.New("boost: invalid configuration")

// DEFAULTS - single source of truth for zero-value behavior. Config fields
// left at their zero value pick these up in Validate.
const (
	// DefaultNTrees is the boosting round count.
	DefaultNTrees = 50

	// DefaultMaxDepth bounds tree depth; depth 0 is the root layer.
	DefaultMaxDepth = 5

	// DefaultLearnRate shrinks every leaf prediction.
	DefaultLearnRate = 0.1

	// DefaultLearnRateAnnealing multiplies the effective rate each round;
	// 1 disables annealing.
	DefaultLearnRateAnnealing = 1.0

	// DefaultNBins is the histogram bin count below the root layer.
	DefaultNBins = 20

	// DefaultNBinsTopLevel is the root layer's (finer) bin count.
	DefaultNBinsTopLevel = 1024

	// DefaultNBinsCats caps categorical histogram width.
	DefaultNBinsCats = 1024

	// DefaultMinRows is the least weight either split child may hold.
	DefaultMinRows = 10.0

	// DefaultColBlockSize is the column-block width of the aggregation pass.
	DefaultColBlockSize = 8

	// convergenceEps stops training once the effective learning rate
	// (learn_rate × annealing^(round-1)) falls below it.
	convergenceEps = 1e-6

	// predCapRaw bounds a leaf's raw fitted value before the configured
	// absolute cap applies; ±Inf coerces to this bound, NaN to zero.
	predCapRaw = 1e4
)

// Config is the full hyperparameter surface of one training run.
//
// Rate fields live in (0, 1]; zero values select the documented defaults
// where a default exists and are rejected otherwise. Validation reports the
// first offending field by name.
type Config struct {
	// Distribution selects the loss family driving residuals and leaf fits.
	Distribution dist.Family

	// Response names the response column. Required.
	Response string

	// Weights optionally names a row-weight column.
	Weights string

	// Offset optionally names a link-space offset column.
	Offset string

	NTrees             int
	MaxDepth           int
	LearnRate          float64
	LearnRateAnnealing float64

	NBins         int
	NBinsTopLevel int
	NBinsCats     int
	QuantileBins  bool // numeric bin edges from population quantiles instead of equal width

	MinRows             float64
	MinSplitImprovement float64

	SampleRate           float64
	SampleRatePerClass   []float64
	ColSampleRate        float64
	ColSampleRatePerTree float64

	MaxAbsLeafnodePred float64
	PredNoiseBandwidth float64

	TweediePower  float64
	QuantileAlpha float64
	HuberAlpha    float64

	Seed int64

	// Histogram-engine knobs.
	ColBlockSize int
	SharedHisto  bool
	MinThreads   int
	Unordered    bool

	// Logger receives one record per round; nil keeps the trainer silent.
	Logger *slog.Logger
}

// WithDefaults returns a copy with zero values resolved to the documented
// defaults. Train applies it before Validate; callers only need it to
// inspect the effective configuration.
func (c Config) WithDefaults() Config {
	if c.NTrees == 0 {
		c.NTrees = DefaultNTrees
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.LearnRate == 0 {
		c.LearnRate = DefaultLearnRate
	}
	if c.LearnRateAnnealing == 0 {
		c.LearnRateAnnealing = DefaultLearnRateAnnealing
	}
	if c.NBins == 0 {
		c.NBins = DefaultNBins
	}
	if c.NBinsTopLevel == 0 {
		c.NBinsTopLevel = DefaultNBinsTopLevel
	}
	if c.NBinsCats == 0 {
		c.NBinsCats = DefaultNBinsCats
	}
	if c.MinRows == 0 {
		c.MinRows = DefaultMinRows
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1
	}
	if c.ColSampleRate == 0 {
		c.ColSampleRate = 1
	}
	if c.ColSampleRatePerTree == 0 {
		c.ColSampleRatePerTree = 1
	}
	if c.MaxAbsLeafnodePred == 0 {
		c.MaxAbsLeafnodePred = predCapRaw
	}
	if c.TweediePower == 0 {
		c.TweediePower = dist.DefaultTweediePower
	}
	if c.QuantileAlpha == 0 {
		c.QuantileAlpha = dist.DefaultQuantileAlpha
	}
	if c.HuberAlpha == 0 {
		c.HuberAlpha = dist.DefaultHuberAlpha
	}
	if c.ColBlockSize == 0 {
		c.ColBlockSize = DefaultColBlockSize
	}
	return c
}

// Validate checks every field after default resolution and names the first
// offending field in the returned error.
func (c Config) Validate() error {
	if c.Response == "" {
		return fmt.Errorf("%w: response: column name required", ErrConfig)
	}
	if c.NTrees < 1 {
		return fmt.Errorf("%w: ntrees=%d, want >= 1", ErrConfig, c.NTrees)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth=%d, want >= 1", ErrConfig, c.MaxDepth)
	}
	if c.LearnRate <= 0 || c.LearnRate > 1 {
		return fmt.Errorf("%w: learn_rate=%v, want (0,1]", ErrConfig, c.LearnRate)
	}
	if c.LearnRateAnnealing <= 0 || c.LearnRateAnnealing > 1 {
		return fmt.Errorf("%w: learn_rate_annealing=%v, want (0,1]", ErrConfig, c.LearnRateAnnealing)
	}
	if c.NBins < 2 {
		return fmt.Errorf("%w: nbins=%d, want >= 2", ErrConfig, c.NBins)
	}
	if c.NBinsTopLevel < c.NBins {
		return fmt.Errorf("%w: nbins_top_level=%d, want >= nbins (%d)", ErrConfig, c.NBinsTopLevel, c.NBins)
	}
	if c.NBinsCats < 2 {
		return fmt.Errorf("%w: nbins_cats=%d, want >= 2", ErrConfig, c.NBinsCats)
	}
	if c.MinRows < 1 {
		return fmt.Errorf("%w: min_rows=%v, want >= 1", ErrConfig, c.MinRows)
	}
	if c.MinSplitImprovement < 0 {
		return fmt.Errorf("%w: min_split_improvement=%v, want >= 0", ErrConfig, c.MinSplitImprovement)
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: sample_rate=%v, want (0,1]", ErrConfig, c.SampleRate)
	}
	for i, r := range c.SampleRatePerClass {
		if r <= 0 || r > 1 {
			return fmt.Errorf("%w: sample_rate_per_class[%d]=%v, want (0,1]", ErrConfig, i, r)
		}
	}
	if c.ColSampleRate <= 0 || c.ColSampleRate > 1 {
		return fmt.Errorf("%w: col_sample_rate=%v, want (0,1]", ErrConfig, c.ColSampleRate)
	}
	if c.ColSampleRatePerTree <= 0 || c.ColSampleRatePerTree > 1 {
		return fmt.Errorf("%w: col_sample_rate_per_tree=%v, want (0,1]", ErrConfig, c.ColSampleRatePerTree)
	}
	if c.MaxAbsLeafnodePred <= 0 {
		return fmt.Errorf("%w: max_abs_leafnode_pred=%v, want > 0", ErrConfig, c.MaxAbsLeafnodePred)
	}
	if c.PredNoiseBandwidth < 0 {
		return fmt.Errorf("%w: pred_noise_bandwidth=%v, want >= 0", ErrConfig, c.PredNoiseBandwidth)
	}
	if c.TweediePower <= 1 || c.TweediePower >= 2 {
		return fmt.Errorf("%w: tweedie_power=%v, want (1,2)", ErrConfig, c.TweediePower)
	}
	if c.QuantileAlpha <= 0 || c.QuantileAlpha >= 1 {
		return fmt.Errorf("%w: quantile_alpha=%v, want (0,1)", ErrConfig, c.QuantileAlpha)
	}
	if c.HuberAlpha <= 0 || c.HuberAlpha >= 1 {
		return fmt.Errorf("%w: huber_alpha=%v, want (0,1)", ErrConfig, c.HuberAlpha)
	}
	if c.ColBlockSize < 1 {
		return fmt.Errorf("%w: col_block_sz=%d, want >= 1", ErrConfig, c.ColBlockSize)
	}
	if c.MinThreads < 0 {
		return fmt.Errorf("%w: min_threads=%d, want >= 0", ErrConfig, c.MinThreads)
	}
	return nil
}
