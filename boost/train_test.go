package boost_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/grove/boost"
	"github.com/katalvlaran/grove/dist"
	"github.com/katalvlaran/grove/dtree"
	"github.com/katalvlaran/grove/frame"
	"github.com/katalvlaran/grove/quantile"
)

// newFrame builds a frame with the given chunk size and numeric columns in
// declaration order.
func newFrame(t *testing.T, chunkSize int, names []string, cols [][]float64) *frame.Frame {
	t.Helper()
	f, err := frame.New(len(cols[0]), chunkSize)
	require.NoError(t, err)
	for i, name := range names {
		require.NoError(t, f.AddNumeric(name, cols[i]))
	}
	return f
}

// routeRow walks a row to its leaf with the public routing API.
func routeRow(tr *dtree.Tree, f *frame.Frame, row int) int32 {
	nid := int32(0)
	for {
		n := tr.Node(nid)
		if n.Kind != dtree.Decided {
			return nid
		}
		nid = tr.Route(n, f.At(n.Split.Col, row))
	}
}

// decidedNodes collects every decided node of a tree.
func decidedNodes(tr *dtree.Tree) []*dtree.Node {
	var out []*dtree.Node
	for nid := int32(0); nid < int32(tr.Len()); nid++ {
		if n := tr.Node(nid); n.Kind == dtree.Decided {
			out = append(out, n)
		}
	}
	return out
}

// TestConstantResponseGaussian: constant y=3 yields init_f=3, every tree a
// bare leaf, and predictions exactly 3 (end-to-end scenario 1).
func TestConstantResponseGaussian(t *testing.T) {
	n := 100
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i % 13)
		y[i] = 3
	}
	f := newFrame(t, 32, []string{"x", "y"}, [][]float64{x, y})

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Gaussian,
		Response:     "y",
		NTrees:       10,
		LearnRate:    0.1,
		MinRows:      1,
	})
	require.NoError(t, err)

	require.Equal(t, []float64{3.0}, m.InitF)
	require.Len(t, m.Rounds, 10)
	for _, round := range m.Rounds {
		require.Equal(t, 1, round.Trees[0].Len(), "constant response must not split")
		require.Equal(t, 0.0, round.Trees[0].Node(0).Pred)
	}

	scores, err := m.Score(f)
	require.NoError(t, err)
	for _, s := range scores[0] {
		require.Equal(t, 3.0, s)
	}
}

// TestBernoulliSeparableStump: perfectly separable data, one depth-1 tree.
// The single split lands on x1 near 0 with NA direction left; the leaves
// carry opposite-signed predictions (end-to-end scenario 2).
func TestBernoulliSeparableStump(t *testing.T) {
	n := 100
	x1 := make([]float64, n)
	x2 := make([]float64, n)
	y := make([]float64, n)
	for i := range x1 {
		x1[i] = (float64(i) - 49.5) / 50 // -0.99 .. 0.99, no zeros
		x2[i] = float64(i % 7)           // uninformative
		if x1[i] > 0 {
			y[i] = 1
		}
	}
	f := newFrame(t, 16, []string{"x1", "x2", "y"}, [][]float64{x1, x2, y})

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Bernoulli,
		Response:     "y",
		NTrees:       1,
		MaxDepth:     1,
		LearnRate:    0.1,
		MinRows:      5,
	})
	require.NoError(t, err)
	require.Len(t, m.Rounds, 1)

	tr := m.Rounds[0].Trees[0]
	require.Equal(t, 3, tr.Len())
	root := tr.Node(0)
	require.Equal(t, dtree.Decided, root.Kind)

	x1col, err := f.ColumnIndex("x1")
	require.NoError(t, err)
	require.Equal(t, x1col, root.Split.Col)
	require.InDelta(t, 0.0, root.Split.Threshold, 0.05)
	require.Equal(t, dtree.NALeft, root.Split.NADir)

	left := tr.Node(root.Left).Pred
	right := tr.Node(root.Right).Pred
	require.Less(t, left, 0.0)
	require.Greater(t, right, 0.0)
	require.InDelta(t, 0.2, right, 1e-3) // lr × (num/denom) = 0.1 × 2
}

// TestMultinomialSoftmax: three balanced, separable classes. Softmax over
// the class scores sums to 1 and recovers the labels (scenario 3).
func TestMultinomialSoftmax(t *testing.T) {
	n := 120
	x := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(7))
	for i := range x {
		k := i % 3
		x[i] = float64(k) + rng.Float64()*0.5
		y[i] = float64(k)
	}
	f, err := frame.New(n, 32)
	require.NoError(t, err)
	require.NoError(t, f.AddNumeric("x", x))
	require.NoError(t, f.AddCategorical("y", []string{"a", "b", "c"}, y))

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Multinomial,
		Response:     "y",
		NTrees:       5,
		MaxDepth:     3,
		LearnRate:    0.3,
		MinRows:      3,
	})
	require.NoError(t, err)
	require.Equal(t, 3, m.NClass)

	scores, err := m.Score(f)
	require.NoError(t, err)

	correct := 0
	for i := 0; i < n; i++ {
		var sum, maxp float64
		argmax := -1
		var ps [3]float64
		maxf := math.Inf(-1)
		for k := 0; k < 3; k++ {
			if scores[k][i] > maxf {
				maxf = scores[k][i]
			}
		}
		for k := 0; k < 3; k++ {
			ps[k] = math.Exp(scores[k][i] - maxf)
			sum += ps[k]
		}
		var total float64
		for k := 0; k < 3; k++ {
			ps[k] /= sum
			total += ps[k]
			if ps[k] > maxp {
				maxp = ps[k]
				argmax = k
			}
		}
		require.InDelta(t, 1.0, total, 1e-6)
		if argmax == int(y[i]) {
			correct++
		}
	}
	require.GreaterOrEqual(t, float64(correct)/float64(n), 0.9)
}

// TestLaplaceMedianLeaves: after one round every leaf's prediction equals
// learn_rate × median(y − init_f) over its member rows (scenario 4).
func TestLaplaceMedianLeaves(t *testing.T) {
	n := 120
	x := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(11))
	for i := range x {
		x[i] = 2 * math.Pi * float64(i) / float64(n)
		y[i] = math.Sin(x[i]) + 0.05*rng.NormFloat64()
	}
	f := newFrame(t, 32, []string{"x", "y"}, [][]float64{x, y})

	const lr = 0.5
	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Laplace,
		Response:     "y",
		NTrees:       1,
		MaxDepth:     2,
		LearnRate:    lr,
		MinRows:      5,
	})
	require.NoError(t, err)

	tr := m.Rounds[0].Trees[0]
	require.Greater(t, tr.Len(), 1, "sine data must split")

	members := map[int32][]float64{}
	for i := 0; i < n; i++ {
		leaf := routeRow(tr, f, i)
		members[leaf] = append(members[leaf], y[i]-m.InitF[0])
	}
	for leaf, res := range members {
		med, err := quantile.Weighted(res, nil, 0.5)
		require.NoError(t, err)
		require.InDelta(t, lr*med, tr.Node(leaf).Pred, 1e-4, "leaf %d", leaf)
	}
}

// TestHuberSingleLeaf: with splitting suppressed, the one leaf must equal
// learn_rate × (median + clipped-mean correction) where the clip is the
// 0.9-quantile of absolute residuals (scenario 5).
func TestHuberSingleLeaf(t *testing.T) {
	n := 50
	x := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(3))
	for i := range x {
		x[i] = float64(i)
		y[i] = 0.1*float64(i) + rng.NormFloat64()
		if i%10 == 0 {
			y[i] += 25 // heavy tail
		}
	}
	f := newFrame(t, 16, []string{"x", "y"}, [][]float64{x, y})

	const lr = 0.3
	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Huber,
		HuberAlpha:   0.9,
		Response:     "y",
		NTrees:       1,
		MaxDepth:     1,
		LearnRate:    lr,
		MinRows:      1000, // no child can satisfy this: single leaf
	})
	require.NoError(t, err)

	tr := m.Rounds[0].Trees[0]
	require.Equal(t, 1, tr.Len())

	// Replay the two-step fit: residuals against init_f (the weighted
	// median of y), delta = 0.9-quantile of |residual|.
	res := make([]float64, n)
	absr := make([]float64, n)
	for i := range y {
		res[i] = y[i] - m.InitF[0]
		absr[i] = math.Abs(res[i])
	}
	delta, err := quantile.Weighted(absr, nil, 0.9)
	require.NoError(t, err)
	med, err := quantile.Weighted(res, nil, 0.5)
	require.NoError(t, err)

	var corr float64
	for _, r := range res {
		rr := r - med
		c := math.Min(math.Abs(rr), delta)
		if rr < 0 {
			c = -c
		}
		corr += c
	}
	corr /= float64(n)

	require.InDelta(t, lr*(med+corr), tr.Node(0).Pred, 1e-4)
}

// TestSamplingDeterminism: same seed and hyperparameters give identical
// models, whether histograms are shared or deep-cloned (scenario 6).
func TestSamplingDeterminism(t *testing.T) {
	n := 200
	x1 := make([]float64, n)
	x2 := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(5))
	for i := range x1 {
		x1[i] = rng.Float64() * 10
		x2[i] = rng.Float64() * 10
		y[i] = 2*x1[i] - x2[i] + rng.NormFloat64()
	}
	f := newFrame(t, 32, []string{"x1", "x2", "y"}, [][]float64{x1, x2, y})

	cfg := boost.Config{
		Distribution: dist.Gaussian,
		Response:     "y",
		NTrees:       5,
		MaxDepth:     3,
		LearnRate:    0.2,
		MinRows:      5,
		SampleRate:   0.7,
		Seed:         42,
	}

	train := func(shared, unordered bool) [][]float64 {
		c := cfg
		c.SharedHisto = shared
		c.Unordered = unordered
		m, err := boost.Train(context.Background(), f, c)
		require.NoError(t, err)
		s, err := m.Score(f)
		require.NoError(t, err)
		return s
	}

	base := train(false, false)

	// Bit-identical across reruns of the same configuration.
	require.Equal(t, base, train(false, false))

	// Shared-histogram and unordered modes agree within float tolerance.
	for _, mode := range [][2]bool{{true, false}, {false, true}, {true, true}} {
		got := train(mode[0], mode[1])
		for i := range base[0] {
			require.InDelta(t, base[0][i], got[0][i], 1e-7, "row %d shared=%v unordered=%v", i, mode[0], mode[1])
		}
	}

	// A different seed draws a different out-of-bag mask.
	c2 := cfg
	c2.Seed = 43
	m2, err := boost.Train(context.Background(), f, c2)
	require.NoError(t, err)
	s2, err := m2.Score(f)
	require.NoError(t, err)
	require.NotEqual(t, base, s2)
}

// TestConvergenceStop: an effective learning rate below 1e-6 stops cleanly
// before any round, leaving predictions at init_f.
func TestConvergenceStop(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	y := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	f := newFrame(t, 4, []string{"x", "y"}, [][]float64{x, y})

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Gaussian,
		Response:     "y",
		NTrees:       10,
		LearnRate:    1e-7,
		MinRows:      1,
	})
	require.NoError(t, err)
	require.Empty(t, m.Rounds)
	require.Empty(t, m.Metrics)

	scores, err := m.Score(f)
	require.NoError(t, err)
	for _, s := range scores[0] {
		require.Equal(t, m.InitF[0], s)
	}
}

// TestEmptyClassProducesNoTree: a declared level with zero marginal gets a
// nil tree slot each round.
func TestEmptyClassProducesNoTree(t *testing.T) {
	n := 60
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		k := (i % 2) * 2 // classes 0 and 2 only; class 1 empty
		x[i] = float64(k) + float64(i%5)*0.1
		y[i] = float64(k)
	}
	f, err := frame.New(n, 16)
	require.NoError(t, err)
	require.NoError(t, f.AddNumeric("x", x))
	require.NoError(t, f.AddCategorical("y", []string{"a", "b", "c"}, y))

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Multinomial,
		Response:     "y",
		NTrees:       2,
		MinRows:      3,
	})
	require.NoError(t, err)
	require.Equal(t, 3, m.NClass)
	for _, round := range m.Rounds {
		require.NotNil(t, round.Trees[0])
		require.Nil(t, round.Trees[1], "empty class must produce no tree")
		require.NotNil(t, round.Trees[2])
	}
}

// TestTwoClassMultinomialCollapse: nclass=2 trains one tree per round.
func TestTwoClassMultinomialCollapse(t *testing.T) {
	n := 40
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = float64(i % 2)
	}
	f, err := frame.New(n, 16)
	require.NoError(t, err)
	require.NoError(t, f.AddNumeric("x", x))
	require.NoError(t, f.AddCategorical("y", []string{"no", "yes"}, y))

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Multinomial,
		Response:     "y",
		NTrees:       2,
		MinRows:      2,
	})
	require.NoError(t, err)
	require.Equal(t, 1, m.NClass)
	require.Len(t, m.Rounds[0].Trees, 1)
}

// TestDepthLimitAndChildOrdering: depth-1 trees hold at most three nodes,
// and every decided node's children have strictly greater ids.
func TestDepthLimitAndChildOrdering(t *testing.T) {
	n := 100
	x := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(9))
	for i := range x {
		x[i] = rng.Float64() * 4
		y[i] = math.Floor(x[i])
	}
	f := newFrame(t, 32, []string{"x", "y"}, [][]float64{x, y})

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Gaussian,
		Response:     "y",
		NTrees:       3,
		MaxDepth:     1,
		MinRows:      5,
	})
	require.NoError(t, err)

	for _, round := range m.Rounds {
		tr := round.Trees[0]
		require.LessOrEqual(t, tr.Len(), 3)
		for nid := int32(0); nid < int32(tr.Len()); nid++ {
			n := tr.Node(nid)
			if n.Kind == dtree.Decided {
				require.Greater(t, n.Left, nid)
				require.Greater(t, n.Right, n.Left)
			}
		}
	}
}

// TestAllNAColumnNeverSelected: a column of NaNs is never chosen as a
// split, however many rounds run.
func TestAllNAColumnNeverSelected(t *testing.T) {
	n := 80
	x := make([]float64, n)
	na := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(13))
	for i := range x {
		x[i] = rng.Float64() * 10
		na[i] = math.NaN()
		y[i] = x[i] * 2
	}
	f := newFrame(t, 16, []string{"x", "allna", "y"}, [][]float64{x, na, y})

	// String and UUID columns ride along but are never candidate features.
	notes := make([]string, n)
	ids := make([]string, n)
	for i := range notes {
		notes[i] = "row-note"
		ids[i] = "550e8400-e29b-41d4-a716-446655440000"
	}
	require.NoError(t, f.AddString("note", notes))
	require.NoError(t, f.AddUUID("id", ids))

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Gaussian,
		Response:     "y",
		NTrees:       4,
		MaxDepth:     3,
		MinRows:      5,
	})
	require.NoError(t, err)

	naCol, err := f.ColumnIndex("allna")
	require.NoError(t, err)
	strCol, err := f.ColumnIndex("note")
	require.NoError(t, err)
	uuidCol, err := f.ColumnIndex("id")
	require.NoError(t, err)
	splits := 0
	for _, round := range m.Rounds {
		for _, node := range decidedNodes(round.Trees[0]) {
			require.NotEqual(t, naCol, node.Split.Col)
			require.NotEqual(t, strCol, node.Split.Col)
			require.NotEqual(t, uuidCol, node.Split.Col)
			splits++
		}
	}
	require.Greater(t, splits, 0)
}

// TestZeroWeightRowsIgnored: weight-0 rows influence neither init_f nor any
// split, yet still receive predictions.
func TestZeroWeightRowsIgnored(t *testing.T) {
	n := 60
	x := make([]float64, n)
	w := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		if i%3 == 0 {
			w[i] = 0
			y[i] = 1000 // must not leak into the model
		} else {
			w[i] = 1
			y[i] = 2
		}
	}
	f := newFrame(t, 16, []string{"x", "w", "y"}, [][]float64{x, w, y})

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Gaussian,
		Response:     "y",
		Weights:      "w",
		NTrees:       2,
		MinRows:      1,
	})
	require.NoError(t, err)
	require.Equal(t, 2.0, m.InitF[0])

	scores, err := m.Score(f)
	require.NoError(t, err)
	for _, s := range scores[0] {
		require.Equal(t, 2.0, s)
	}
}

// TestPredictionNoiseDeterminism: noise is reproducible per seed and
// actually perturbs predictions.
func TestPredictionNoiseDeterminism(t *testing.T) {
	n := 100
	x := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(17))
	for i := range x {
		x[i] = rng.Float64() * 10
		y[i] = x[i] + rng.NormFloat64()
	}
	f := newFrame(t, 32, []string{"x", "y"}, [][]float64{x, y})

	cfg := boost.Config{
		Distribution:       dist.Gaussian,
		Response:           "y",
		NTrees:             3,
		MinRows:            5,
		Seed:               21,
		PredNoiseBandwidth: 0.1,
	}
	m1, err := boost.Train(context.Background(), f, cfg)
	require.NoError(t, err)
	m2, err := boost.Train(context.Background(), f, cfg)
	require.NoError(t, err)

	s1, err := m1.Score(f)
	require.NoError(t, err)
	s2, err := m2.Score(f)
	require.NoError(t, err)
	require.Equal(t, s1, s2)

	cfg.PredNoiseBandwidth = 0
	m3, err := boost.Train(context.Background(), f, cfg)
	require.NoError(t, err)
	s3, err := m3.Score(f)
	require.NoError(t, err)
	require.NotEqual(t, s1, s3)
}

// TestCancellation: a cancelled context aborts the round and surfaces the
// cause.
func TestCancellation(t *testing.T) {
	x := make([]float64, 50)
	y := make([]float64, 50)
	for i := range x {
		x[i] = float64(i)
		y[i] = float64(i)
	}
	f := newFrame(t, 8, []string{"x", "y"}, [][]float64{x, y})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := boost.Train(ctx, f, boost.Config{
		Distribution: dist.Gaussian,
		Response:     "y",
		MinRows:      1,
	})
	require.ErrorIs(t, err, context.Canceled)
}

// TestMetricsDecrease: on learnable data the training deviance shrinks
// round over round.
func TestMetricsDecrease(t *testing.T) {
	n := 150
	x := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(23))
	for i := range x {
		x[i] = rng.Float64() * 10
		y[i] = 3*x[i] + rng.NormFloat64()*0.1
	}
	f := newFrame(t, 32, []string{"x", "y"}, [][]float64{x, y})

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Gaussian,
		Response:     "y",
		NTrees:       10,
		MaxDepth:     3,
		LearnRate:    0.3,
		MinRows:      3,
	})
	require.NoError(t, err)
	require.Len(t, m.Metrics, 10)
	require.Less(t, m.Metrics[len(m.Metrics)-1], m.Metrics[0]/2)
}

// TestConfigErrors: configuration problems surface as ErrConfig before any
// training work.
func TestConfigErrors(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{0, 1, 2, 1} // not binary
	f := newFrame(t, 2, []string{"x", "y"}, [][]float64{x, y})

	_, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Bernoulli,
		Response:     "y",
		MinRows:      1,
	})
	require.ErrorIs(t, err, boost.ErrConfig)

	_, err = boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Gaussian,
		Response:     "missing",
	})
	require.ErrorIs(t, err, boost.ErrConfig)

	// Multinomial needs a categorical response.
	_, err = boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Multinomial,
		Response:     "y",
	})
	require.ErrorIs(t, err, boost.ErrConfig)
}

// TestPoissonLogLink: constant counts converge immediately to the log-mean
// with no splits.
func TestPoissonLogLink(t *testing.T) {
	n := 64
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i % 9)
		y[i] = 4
	}
	f := newFrame(t, 16, []string{"x", "y"}, [][]float64{x, y})

	m, err := boost.Train(context.Background(), f, boost.Config{
		Distribution: dist.Poisson,
		Response:     "y",
		NTrees:       3,
		MinRows:      1,
	})
	require.NoError(t, err)
	require.InDelta(t, math.Log(4), m.InitF[0], 1e-12)

	scores, err := m.Score(f)
	require.NoError(t, err)
	for _, s := range scores[0] {
		require.InDelta(t, math.Log(4), s, 1e-9)
	}
}
