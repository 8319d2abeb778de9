package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/katalvlaran/grove/boost"
	"github.com/katalvlaran/grove/dist"
	"github.com/katalvlaran/grove/dtree"
)

// trainSpec is the flag-driven configuration of one training run. The
// validator tags catch obvious mistakes before any data loads; the library
// re-validates the full hyperparameter surface with field-named errors.
type trainSpec struct {
	Input        string  `validate:"required"`
	Response     string  `validate:"required"`
	Distribution string  `validate:"required"`
	Weights      string
	NTrees       int     `validate:"min=1"`
	MaxDepth     int     `validate:"min=1"`
	LearnRate    float64 `validate:"gt=0,lte=1"`
	SampleRate   float64 `validate:"gt=0,lte=1"`
	MinRows      float64 `validate:"gte=1"`
	Seed         int64
	SharedHisto  bool
	Output       string
}

func newTrainCmd() *cobra.Command {
	spec := trainSpec{
		NTrees:     boost.DefaultNTrees,
		MaxDepth:   boost.DefaultMaxDepth,
		LearnRate:  boost.DefaultLearnRate,
		SampleRate: 1,
		MinRows:    boost.DefaultMinRows,
	}

	cmd := &cobra.Command{
		Use:   "train <data.csv>",
		Short: "Fit a boosted ensemble on a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Input = args[0]
			return runTrain(cmd.Context(), spec)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&spec.Response, "response", "y", "", "response column name (required)")
	fl.StringVar(&spec.Distribution, "distribution", "gaussian", "loss family")
	fl.StringVar(&spec.Weights, "weights", "", "row-weight column name")
	fl.IntVar(&spec.NTrees, "ntrees", spec.NTrees, "boosting rounds")
	fl.IntVar(&spec.MaxDepth, "max-depth", spec.MaxDepth, "maximum tree depth")
	fl.Float64Var(&spec.LearnRate, "learn-rate", spec.LearnRate, "shrinkage in (0,1]")
	fl.Float64Var(&spec.SampleRate, "sample-rate", spec.SampleRate, "row sample rate per tree")
	fl.Float64Var(&spec.MinRows, "min-rows", spec.MinRows, "minimum weight per leaf")
	fl.Int64Var(&spec.Seed, "seed", 0, "RNG seed (0 = fixed default stream)")
	fl.BoolVar(&spec.SharedHisto, "shared-histo", false, "shared histograms instead of deep clones")
	fl.StringVarP(&spec.Output, "output", "o", "", "write a JSON model dump here")
	_ = cmd.MarkFlagRequired("response")

	return cmd
}

func runTrain(ctx context.Context, spec trainSpec) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	runID := uuid.New().String()

	if err := validator.New().Struct(spec); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	family, err := dist.ParseFamily(spec.Distribution)
	if err != nil {
		return err
	}

	f, err := loadCSV(spec.Input)
	if err != nil {
		return err
	}
	log.Info("frame loaded",
		"run_id", runID,
		"input", spec.Input,
		"rows", f.NumRows(),
		"cols", f.NumCols(),
		"chunks", f.NumChunks(),
	)

	start := time.Now()
	model, err := boost.Train(ctx, f, boost.Config{
		Distribution: family,
		Response:     spec.Response,
		Weights:      spec.Weights,
		NTrees:       spec.NTrees,
		MaxDepth:     spec.MaxDepth,
		LearnRate:    spec.LearnRate,
		SampleRate:   spec.SampleRate,
		MinRows:      spec.MinRows,
		Seed:         spec.Seed,
		SharedHisto:  spec.SharedHisto,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	final := 0.0
	if len(model.Metrics) > 0 {
		final = model.Metrics[len(model.Metrics)-1]
	}
	log.Info("training finished",
		"run_id", runID,
		"rounds", model.NTrees(),
		"train_deviance", final,
		"elapsed", time.Since(start),
	)

	if spec.Output == "" {
		return nil
	}
	return writeDump(spec.Output, runID, model)
}

// Dump types: a debugging artifact, not a stable model format.

type nodeDump struct {
	Kind      string   `json:"kind"`
	Col       int      `json:"col,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
	Bitset    []uint32 `json:"bitset,omitempty"`
	Equal     bool     `json:"equal,omitempty"`
	NADir     uint8    `json:"na_dir,omitempty"`
	Left      int32    `json:"left,omitempty"`
	Right     int32    `json:"right,omitempty"`
	Pred      float64  `json:"pred,omitempty"`
}

type modelDump struct {
	RunID   string         `json:"run_id"`
	Family  string         `json:"family"`
	NClass  int            `json:"nclass"`
	InitF   []float64      `json:"init_f"`
	Metrics []float64      `json:"train_deviance"`
	Trees   [][][]nodeDump `json:"trees"` // [round][class][node]
}

func writeDump(path, runID string, m *boost.Model) error {
	dump := modelDump{
		RunID:   runID,
		Family:  m.Family.String(),
		NClass:  m.NClass,
		InitF:   m.InitF,
		Metrics: m.Metrics,
	}
	for _, round := range m.Rounds {
		classes := make([][]nodeDump, len(round.Trees))
		for k, tr := range round.Trees {
			if tr == nil {
				continue
			}
			nodes := make([]nodeDump, tr.Len())
			for nid := int32(0); nid < int32(tr.Len()); nid++ {
				n := tr.Node(nid)
				d := nodeDump{Pred: n.Pred}
				switch n.Kind {
				case dtree.Decided:
					d.Kind = "decided"
					d.Col = n.Split.Col
					d.Threshold = n.Split.Threshold
					d.Bitset = n.Split.Bitset
					d.Equal = n.Split.Equal
					d.NADir = uint8(n.Split.NADir)
					d.Left = n.Left
					d.Right = n.Right
				default:
					d.Kind = "leaf"
				}
				nodes[nid] = d
			}
			classes[k] = nodes
		}
		dump.Trees = append(dump.Trees, classes)
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
