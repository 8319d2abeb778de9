// SPDX-License-Identifier: MIT

package boost

import (
	"context"
	"fmt"
	"math"

	"github.com/katalvlaran/grove/binning"
	"github.com/katalvlaran/grove/dist"
	"github.com/katalvlaran/grove/dtree"
	"github.com/katalvlaran/grove/frame"
	"github.com/katalvlaran/grove/histo"
	"github.com/katalvlaran/grove/par"
	"github.com/katalvlaran/grove/quantile"
)

// trainer carries the resolved state of one Train call.
type trainer struct {
	ctx  context.Context
	cfg  Config
	f    *frame.Frame
	d    *dist.Distribution
	a    *frame.Arena
	pool *par.Pool

	nclass   int  // trees per round
	twoClass bool // two-level multinomial collapsed to one bernoulli-style tree

	respCol   int
	weightCol int
	offsetCol int

	features   []int       // candidate predictor columns, ascending
	featPos    map[int]int // column index → position in features
	layouts    []*binning.Layout
	layoutsTop []*binning.Layout

	classW []float64 // weighted response-class marginals (multinomial)

	// Per-round state.
	trees    []*dtree.Tree
	treeCols [][]int
	frontLo  []int32
	frontHi  []int32
}

// Train fits a gradient-boosted ensemble on f under cfg. It returns a
// configuration error before any work starts, the first task error if a
// round is cancelled, or the trained model.
func Train(ctx context.Context, f *frame.Frame, cfg Config) (*Model, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t, err := newTrainer(ctx, f, cfg)
	if err != nil {
		return nil, err
	}

	initF, err := t.computeInitF()
	if err != nil {
		return nil, err
	}
	for k := 0; k < t.nclass; k++ {
		col := t.a.Tree(k)
		for i := range col {
			col[i] = initF[k]
		}
	}

	model := &Model{
		Family: cfg.Distribution,
		NClass: t.nclass,
		InitF:  initF,
		cfg:    cfg,
	}

	for r := 0; r < cfg.NTrees; r++ {
		eff := cfg.LearnRate * math.Pow(cfg.LearnRateAnnealing, float64(r))
		if eff < convergenceEps {
			if cfg.Logger != nil {
				cfg.Logger.Info("training converged", "round", r, "effective_rate", eff)
			}
			break
		}
		if err := t.round(r, eff, model); err != nil {
			return nil, err
		}
		if cfg.Logger != nil {
			cfg.Logger.Info("round complete",
				"round", r+1,
				"effective_rate", eff,
				"train_deviance", model.Metrics[len(model.Metrics)-1],
			)
		}
	}
	return model, nil
}

// round runs one full boosting iteration.
func (t *trainer) round(r int, eff float64, model *Model) error {
	// 1) Huber cutoff precedes the residuals that depend on it.
	if t.d.NeedsHuberFit() {
		delta, err := t.huberDelta()
		if err != nil {
			return err
		}
		t.d.HuberDelta = delta
	}

	// 2) Residuals for every class.
	if err := t.residualPass(); err != nil {
		return err
	}

	// 3) One tree per class with a nonzero marginal; root histograms use
	// the top-level bin count.
	t.trees = make([]*dtree.Tree, t.nclass)
	t.treeCols = make([][]int, t.nclass)
	t.frontLo = make([]int32, t.nclass)
	t.frontHi = make([]int32, t.nclass)
	for k := 0; k < t.nclass; k++ {
		if t.nclass > 1 && t.classW[t.classIndex(k)] == 0 {
			continue
		}
		cols := sampleCols(t.usableFeatures(), t.cfg.ColSampleRatePerTree,
			rngFor(t.cfg.Seed, streamColTree, r, k, 0))
		tree := dtree.New()
		rootCols := sampleCols(cols, t.cfg.ColSampleRate,
			rngFor(t.cfg.Seed, streamColSplit, r, k, 0))
		tree.AddUndecided(t.allocHists(rootCols, true))

		t.trees[k] = tree
		t.treeCols[k] = cols
		t.frontLo[k], t.frontHi[k] = 0, 1
	}

	// 4) Out-of-bag marking.
	t.markOOB(r)

	// 5) Grow layer by layer; stop early once nothing splits.
	for depth := 0; depth < t.cfg.MaxDepth; depth++ {
		anySplit := false
		for k, tree := range t.trees {
			if tree == nil || t.frontLo[k] >= t.frontHi[k] {
				continue
			}
			if err := t.buildHistograms(k, tree); err != nil {
				return err
			}
			if t.splitLayer(r, k, tree) > 0 {
				anySplit = true
			}
		}
		if !anySplit {
			break
		}
	}

	// 6) Bottomed-out frontier nodes become leaves; rows settle on them.
	for k, tree := range t.trees {
		if tree == nil {
			continue
		}
		for nid := int32(0); nid < int32(tree.Len()); nid++ {
			if tree.Node(nid).Kind == dtree.Undecided {
				if err := tree.MakeLeaf(nid, 0); err != nil {
					return err
				}
			}
		}
		if err := t.routePass(k, tree); err != nil {
			return err
		}
	}

	// 7) Leaf fit, 8) ensemble fold + NID reset, 9) metric.
	if err := t.gammaPass(eff); err != nil {
		return err
	}
	if err := t.ensemblePass(r); err != nil {
		return err
	}

	model.Rounds = append(model.Rounds, Round{Trees: t.trees})
	model.Metrics = append(model.Metrics, t.trainDeviance())
	return nil
}

// splitLayer turns the frontier's filled histograms into decided nodes (or
// leaf stubs) and advances the frontier. Returns the number of new splits.
func (t *trainer) splitLayer(r, k int, tree *dtree.Tree) int {
	lo, hi := t.frontLo[k], t.frontHi[k]
	splits := 0

	for nid := lo; nid < hi; nid++ {
		node := tree.Node(nid)
		if node.Kind != dtree.Undecided {
			continue
		}

		// Best split across this node's sampled features; ties resolve to
		// the lower column via strict comparison.
		var (
			best    dtree.Split
			bestImp float64
			found   bool
		)
		for p, h := range node.Hists {
			if h == nil {
				continue
			}
			s, ok := dtree.FindBestSplit(h, t.features[p], t.cfg.MinRows, t.cfg.MinSplitImprovement)
			if ok && s.Improvement > bestImp {
				best = s
				bestImp = s.Improvement
				found = true
			}
		}

		if !found {
			_ = tree.MakeLeaf(nid, 0)
			continue
		}

		childCols := sampleCols(t.treeCols[k], t.cfg.ColSampleRate,
			rngFor(t.cfg.Seed, streamColSplit, r, k, nid))
		_, _, err := tree.Decide(nid, best,
			t.allocHists(childCols, false),
			t.allocHists(childCols, false),
		)
		if err != nil {
			// Unreachable for an undecided node; surface loudly in tests.
			panic(err)
		}
		splits++
	}

	t.frontLo[k], t.frontHi[k] = hi, int32(tree.Len())
	return splits
}

// newTrainer resolves columns, checks the distribution/response contract,
// and precomputes bin layouts and class marginals.
func newTrainer(ctx context.Context, f *frame.Frame, cfg Config) (*trainer, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t := &trainer{
		ctx:       ctx,
		cfg:       cfg,
		f:         f,
		weightCol: -1,
		offsetCol: -1,
	}

	var err error
	if t.respCol, err = f.ColumnIndex(cfg.Response); err != nil {
		return nil, fmt.Errorf("%w: response: %q not in frame", ErrConfig, cfg.Response)
	}
	if cfg.Weights != "" {
		if t.weightCol, err = f.ColumnIndex(cfg.Weights); err != nil {
			return nil, fmt.Errorf("%w: weights: %q not in frame", ErrConfig, cfg.Weights)
		}
	}
	if cfg.Offset != "" {
		if t.offsetCol, err = f.ColumnIndex(cfg.Offset); err != nil {
			return nil, fmt.Errorf("%w: offset: %q not in frame", ErrConfig, cfg.Offset)
		}
	}

	if err = t.resolveClasses(); err != nil {
		return nil, err
	}
	if err = t.checkResponse(); err != nil {
		return nil, err
	}

	family := cfg.Distribution
	if t.twoClass {
		family = dist.Bernoulli
	}
	if t.d, err = dist.NewWith(family, cfg.TweediePower, cfg.QuantileAlpha, cfg.HuberAlpha); err != nil {
		return nil, fmt.Errorf("%w: distribution: %v", ErrConfig, err)
	}

	t.resolveFeatures()
	if err = t.buildLayouts(); err != nil {
		return nil, err
	}
	t.a = frame.NewArena(f, t.nclass)

	// Thread-count policy: ncol_blocks × nrow_threads must reach the
	// min-threads floor (CPU count when unset); the pool never shrinks
	// below the CPU count.
	nblocks := len(par.ColumnBlocks(len(t.features), cfg.ColBlockSize))
	workers := nblocks * par.RowWorkers(nblocks, cfg.MinThreads)
	if def := par.Default().Size(); workers < def {
		workers = def
	}
	t.pool = par.NewPool(workers)
	return t, nil
}

// resolveClasses fixes nclass and the multinomial marginals.
func (t *trainer) resolveClasses() error {
	t.nclass = 1
	if t.cfg.Distribution != dist.Multinomial {
		return nil
	}

	col := t.f.Column(t.respCol)
	if col.Kind() != frame.Categorical {
		return fmt.Errorf("%w: distribution: multinomial needs a categorical response", ErrConfig)
	}
	n := len(col.Domain())
	switch {
	case n < 2:
		return fmt.Errorf("%w: response: %d levels, want >= 2", ErrConfig, n)
	case n == 2:
		// Single-tree optimization: class 1 vs class 0.
		t.twoClass = true
		t.nclass = 1
	default:
		t.nclass = n
	}

	// Weighted class marginals drive the empty-class skip and init_f.
	t.classW = make([]float64, n)
	for ci := 0; ci < t.f.NumChunks(); ci++ {
		resp := t.f.Chunk(t.respCol, ci)
		ws := t.weightChunk(ci)
		for i, y := range resp {
			if math.IsNaN(y) {
				continue
			}
			t.classW[int(y)] += rowWeight(ws, i)
		}
	}
	return nil
}

// checkResponse enforces the distribution/response value contract.
func (t *trainer) checkResponse() error {
	fam := t.cfg.Distribution
	needBinary := fam == dist.Bernoulli || fam == dist.ModifiedHuber
	needNonNeg := fam == dist.Poisson || fam == dist.Tweedie
	needPos := fam == dist.Gamma
	if !needBinary && !needNonNeg && !needPos {
		return nil
	}

	for ci := 0; ci < t.f.NumChunks(); ci++ {
		for _, y := range t.f.Chunk(t.respCol, ci) {
			if math.IsNaN(y) {
				continue
			}
			switch {
			case needBinary && y != 0 && y != 1:
				return fmt.Errorf("%w: response: %s needs values in {0,1}, got %v", ErrConfig, fam, y)
			case needNonNeg && y < 0:
				return fmt.Errorf("%w: response: %s needs values >= 0, got %v", ErrConfig, fam, y)
			case needPos && y <= 0:
				return fmt.Errorf("%w: response: %s needs values > 0, got %v", ErrConfig, fam, y)
			}
		}
	}
	return nil
}

// resolveFeatures collects the predictor columns: every numeric,
// categorical, or time column that is not response, weight, or offset.
func (t *trainer) resolveFeatures() {
	t.featPos = make(map[int]int)
	for c := 0; c < t.f.NumCols(); c++ {
		if c == t.respCol || c == t.weightCol || c == t.offsetCol {
			continue
		}
		switch t.f.Column(c).Kind() {
		case frame.Numeric, frame.Categorical, frame.Time:
			t.featPos[c] = len(t.features)
			t.features = append(t.features, c)
		}
	}
}

// buildLayouts derives the global bin layouts per feature, at both the
// regular and the top-level bin counts. A feature with no finite values
// gets nil layouts and is never offered to split search.
func (t *trainer) buildLayouts() error {
	t.layouts = make([]*binning.Layout, len(t.features))
	t.layoutsTop = make([]*binning.Layout, len(t.features))

	for p, c := range t.features {
		col := t.f.Column(c)
		if col.Kind() == frame.Categorical {
			lay, err := binning.CategoricalLayout(len(col.Domain()), t.cfg.NBinsCats)
			if err != nil {
				return err
			}
			t.layouts[p] = lay
			t.layoutsTop[p] = lay
			continue
		}

		values := t.columnValues(c)
		if t.cfg.QuantileBins {
			lay, err := binning.Quantile(values, t.cfg.NBins)
			if err != nil {
				continue // all-NA column: unusable, never selected
			}
			top, err := binning.Quantile(values, t.cfg.NBinsTopLevel)
			if err != nil {
				continue
			}
			t.layouts[p] = lay
			t.layoutsTop[p] = top
			continue
		}

		min, max, ok := binning.ColumnRange(values)
		if !ok {
			continue // all-NA column
		}
		lay, err := binning.EqualWidth(min, max, t.cfg.NBins)
		if err != nil {
			return err
		}
		top, err := binning.EqualWidth(min, max, t.cfg.NBinsTopLevel)
		if err != nil {
			return err
		}
		t.layouts[p] = lay
		t.layoutsTop[p] = top
	}
	return nil
}

// usableFeatures filters out columns with no layout (all-NA).
func (t *trainer) usableFeatures() []int {
	out := make([]int, 0, len(t.features))
	for p, c := range t.features {
		if t.layouts[p] != nil {
			out = append(out, c)
		}
	}
	return out
}

// allocHists builds the per-feature histogram array of a fresh undecided
// node: non-nil only at the sampled feature positions, with the top-level
// layout at the root.
func (t *trainer) allocHists(cols []int, top bool) []*histo.Histogram {
	hs := make([]*histo.Histogram, len(t.features))
	for _, c := range cols {
		p := t.featPos[c]
		lay := t.layouts[p]
		if top {
			lay = t.layoutsTop[p]
		}
		if lay == nil {
			continue
		}
		hs[p] = histo.New(lay)
	}
	return hs
}

// columnValues flattens a column into one slice (layout derivation only).
func (t *trainer) columnValues(c int) []float64 {
	out := make([]float64, 0, t.f.NumRows())
	for ci := 0; ci < t.f.NumChunks(); ci++ {
		out = append(out, t.f.Chunk(c, ci)...)
	}
	return out
}

// computeInitF derives the distribution's optimal constant model.
func (t *trainer) computeInitF() ([]float64, error) {
	// Multinomial (true K-class): per-class log-odds of the marginal.
	if t.nclass > 1 {
		var total float64
		for _, w := range t.classW {
			total += w
		}
		out := make([]float64, t.nclass)
		for k := range out {
			p := 0.0
			if total > 0 {
				p = t.classW[k] / total
			}
			out[k] = logit(p)
		}
		return out, nil
	}

	ys, ws := t.usableResponse()
	if len(ys) == 0 {
		return nil, fmt.Errorf("%w: response: no usable rows", ErrConfig)
	}

	switch t.d.Family {
	case dist.Laplace, dist.Huber:
		m, err := quantile.Weighted(ys, ws, 0.5)
		if err != nil {
			return nil, err
		}
		return []float64{m}, nil
	case dist.Quantile:
		q, err := quantile.Weighted(ys, ws, t.d.QuantileAlpha)
		if err != nil {
			return nil, err
		}
		return []float64{q}, nil
	}

	var sw, swy float64
	for i, y := range ys {
		sw += ws[i]
		swy += ws[i] * y
	}
	mean := swy / sw

	switch t.d.Family {
	case dist.Bernoulli, dist.ModifiedHuber:
		return []float64{logit(mean)}, nil
	case dist.Poisson, dist.Gamma, dist.Tweedie:
		f := t.d.Link(mean)
		return []float64{math.Max(-logSpaceCap, f)}, nil
	default:
		return []float64{mean}, nil
	}
}

// usableResponse gathers (y, w) pairs with finite response and positive
// weight. For the collapsed two-class case the categorical codes 0/1 are
// already the bernoulli response.
func (t *trainer) usableResponse() (ys, ws []float64) {
	for ci := 0; ci < t.f.NumChunks(); ci++ {
		resp := t.f.Chunk(t.respCol, ci)
		wchk := t.weightChunk(ci)
		for i, y := range resp {
			w := rowWeight(wchk, i)
			if math.IsNaN(y) || w == 0 {
				continue
			}
			ys = append(ys, y)
			ws = append(ws, w)
		}
	}
	return ys, ws
}

// trainDeviance is the per-round metric: weighted mean deviance over the
// training frame at the current predictions.
func (t *trainer) trainDeviance() float64 {
	var sum, sumW float64

	if t.nclass > 1 {
		p := make([]float64, t.nclass)
		preds := make([][]float64, t.nclass)
		for ci := 0; ci < t.f.NumChunks(); ci++ {
			resp := t.f.Chunk(t.respCol, ci)
			ws := t.weightChunk(ci)
			for k := 0; k < t.nclass; k++ {
				preds[k] = t.a.TreeChunk(k, ci)
			}
			for i, y := range resp {
				w := rowWeight(ws, i)
				if math.IsNaN(y) || w == 0 {
					continue
				}
				softmaxInto(p, preds, i)
				sum += -2 * w * math.Log(math.Max(p[int(y)], 1e-15))
				sumW += w
			}
		}
		return sum / math.Max(sumW, 1)
	}

	for ci := 0; ci < t.f.NumChunks(); ci++ {
		resp := t.f.Chunk(t.respCol, ci)
		pred := t.a.TreeChunk(0, ci)
		ws := t.weightChunk(ci)
		off := t.offsetChunk(ci)
		for i, y := range resp {
			w := rowWeight(ws, i)
			if math.IsNaN(y) || w == 0 {
				continue
			}
			if t.twoClass {
				// Level codes are the bernoulli response.
				y = float64(int(y))
			}
			fv := pred[i]
			if off != nil {
				fv += off[i]
			}
			sum += t.d.Deviance(w, y, fv)
			sumW += w
		}
	}
	return sum / math.Max(sumW, 1)
}

// Chunk accessors for the optional columns.

func (t *trainer) weightChunk(ci int) []float64 {
	if t.weightCol < 0 {
		return nil
	}
	return t.f.Chunk(t.weightCol, ci)
}

func (t *trainer) offsetChunk(ci int) []float64 {
	if t.offsetCol < 0 {
		return nil
	}
	return t.f.Chunk(t.offsetCol, ci)
}

// classIndex maps a class-tree slot to the response level it models:
// slot k for true multinomial, level 1 for the collapsed two-class tree.
func (t *trainer) classIndex(k int) int {
	if t.twoClass {
		return 1
	}
	return k
}

// newCanceler returns a fresh pass barrier token tied to the run context.
func (t *trainer) newCanceler() *par.Canceler {
	return par.NewCanceler(t.ctx)
}

// logit is the clamped log-odds transform.
func logit(p float64) float64 {
	const eps = 1e-15
	p = math.Min(1-eps, math.Max(eps, p))
	return math.Log(p / (1 - p))
}
