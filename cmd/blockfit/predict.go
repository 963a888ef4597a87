package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/features"
	"github.com/born-ml/blockfit/internal/parallel"
	"github.com/born-ml/blockfit/internal/predict"
	"github.com/born-ml/blockfit/internal/reference"
	"github.com/born-ml/blockfit/internal/serialization"
)

type predictOptions struct {
	model      string
	frame      string
	quantities []string
	bondCutoff float64
	output     string
}

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <model.hblk> <frame.yaml>",
		Short: "Assemble predicted H/S matrices for a configuration",
		Long: `Load a model file and predict the full matrices of the frame's configuration.
Off-site blocks are symmetrized from both atom orderings. When the frame carries
reference matrices, error statistics are reported.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := predictOptions{
				model:      args[0],
				frame:      args[1],
				quantities: viper.GetStringSlice("predict.quantities"),
				bondCutoff: viper.GetFloat64("predict.bond_cutoff"),
				output:     viper.GetString("predict.output"),
			}
			return runPredict(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceP("quantity", "q", nil, "quantities to predict (default: every quantity in the model)")
	cmd.Flags().Float64("bond-cutoff", 0, "zero off-site blocks of pairs at or beyond this distance (0 keeps all)")
	cmd.Flags().StringP("output", "o", "", "write the predicted frame as YAML instead of printing matrices")

	_ = viper.BindPFlag("predict.quantities", cmd.Flags().Lookup("quantity"))
	_ = viper.BindPFlag("predict.bond_cutoff", cmd.Flags().Lookup("bond-cutoff"))
	_ = viper.BindPFlag("predict.output", cmd.Flags().Lookup("output"))

	return cmd
}

func runPredict(ctx context.Context, opts predictOptions, out io.Writer) error {
	m, err := serialization.LoadFile(opts.model, serialization.ReaderOptions{Logger: slog.Default()})
	if err != nil {
		return err
	}
	frame, err := reference.ReadFrame(opts.frame)
	if err != nil {
		return err
	}
	cfg := frame.Configuration()
	if err := cfg.Validate(); err != nil {
		return &blockerr.DataError{File: opts.frame, Details: "invalid frame", Err: err}
	}

	p := predict.New(m.Spec.Registry(), env.NeighborSource{}, features.Radial{},
		predict.WithParallel(parallel.DefaultConfig()),
		predict.WithLogger(slog.Default()))

	quantities := opts.quantities
	if len(quantities) == 0 {
		quantities = modelQuantities(m)
	}

	predicted := &reference.Frame{Species: frame.Species, Positions: frame.Positions}
	for _, s := range quantities {
		q, err := block.ParseQuantity(s)
		if err != nil {
			return err
		}
		full, err := p.Matrix(ctx, cfg, q, m.Bank(q, block.OnSite), m.Bank(q, block.OffSite), opts.bondCutoff)
		if err != nil {
			return err
		}

		ref, err := frameMatrix(frame, q)
		if err != nil {
			return err
		}
		if ref != nil {
			errs, err := predict.Compare(full, ref)
			if err != nil {
				return err
			}
			slog.Info("prediction error", "quantity", q, "mae", errs.MAE, "rmse", errs.RMSE, "max_abs", errs.MaxAbs, "n", errs.N)
		}

		rows := denseRows(full)
		switch q {
		case block.Hamiltonian:
			predicted.H = rows
		case block.Overlap:
			predicted.S = rows
		}
		if opts.output == "" {
			fmt.Fprintf(out, "%s =\n%v\n\n", q, mat.Formatted(full, mat.Squeeze()))
		}
	}

	if opts.output != "" {
		if err := reference.WriteFrame(opts.output, predicted); err != nil {
			return err
		}
		slog.Info("prediction written", "path", opts.output)
	}
	return nil
}

// modelQuantities lists the quantities with at least one bank, H first.
func modelQuantities(m *serialization.Model) []string {
	var out []string
	for _, q := range []block.Quantity{block.Hamiltonian, block.Overlap} {
		if m.Bank(q, block.OnSite) != nil || m.Bank(q, block.OffSite) != nil {
			out = append(out, string(q))
		}
	}
	return out
}

// frameMatrix returns the reference matrix of q, or nil if the frame has none.
func frameMatrix(f *reference.Frame, q block.Quantity) (*mat.Dense, error) {
	rows := f.H
	if q == block.Overlap {
		rows = f.S
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := mat.NewDense(len(rows), len(rows), nil)
	for i, row := range rows {
		if len(row) != len(rows) {
			return nil, fmt.Errorf("reference %s is not square: row %d has %d columns, expected %d", q, i, len(row), len(rows))
		}
		out.SetRow(i, row)
	}
	return out, nil
}

func denseRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}
