package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/born-ml/blockfit/internal/bank"
	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/config"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/features"
	"github.com/born-ml/blockfit/internal/fit"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/reference"
	"github.com/born-ml/blockfit/internal/serialization"
	"github.com/born-ml/blockfit/internal/solver"
)

type fitOptions struct {
	project  string
	output   string
	workers  int
	metrics  string
	progress bool
}

func fitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit <project.yaml>",
		Short: "Fit every declared block model and save the bank",
		Long: `Load a project file, fit one sub-model per declared key from the selected
reference frames and write the specification and all banks to a .hblk file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := fitOptions{
				project:  args[0],
				output:   viper.GetString("fit.output"),
				workers:  viper.GetInt("fit.workers"),
				metrics:  viper.GetString("fit.metrics"),
				progress: viper.GetBool("fit.progress"),
			}
			hdr, err := runFit(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.Info("model saved", "id", hdr.ModelID, "sub_models", len(hdr.Models))
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "model file (overrides the project's output)")
	cmd.Flags().IntP("workers", "w", 0, "keys fit concurrently (overrides the project; 0 keeps it)")
	cmd.Flags().String("metrics", "", "write prometheus metrics to this textfile")
	cmd.Flags().Bool("progress", true, "show a progress bar")

	_ = viper.BindPFlag("fit.output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("fit.workers", cmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("fit.metrics", cmd.Flags().Lookup("metrics"))
	_ = viper.BindPFlag("fit.progress", cmd.Flags().Lookup("progress"))

	return cmd
}

// runFit fits every (quantity, kind) bank the project declares and saves them.
//
//nolint:gocyclo // Sequential pipeline with one error check per stage
func runFit(ctx context.Context, opts fitOptions, progressOut io.Writer) (*serialization.Header, error) {
	project, err := config.Load(opts.project)
	if err != nil {
		return nil, err
	}
	reg, err := project.Registry()
	if err != nil {
		return nil, err
	}
	spec, err := project.Specification(reg, params.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	quantities, err := project.Quantities()
	if err != nil {
		return nil, err
	}

	workers := project.Fit.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}
	fitOpts := []fit.Option{fit.WithLogger(slog.Default()), fit.WithWorkers(workers)}

	var promReg *prometheus.Registry
	if opts.metrics != "" {
		promReg = prometheus.NewRegistry()
		fitOpts = append(fitOpts, fit.WithMetrics(fit.NewMetrics(promReg)))
	}

	total := 0
	for _, q := range quantities {
		total += len(spec.Keys(q, block.OnSite)) + len(spec.Keys(q, block.OffSite))
	}
	if opts.progress && total > 0 {
		bar := newProgressBar(total, progressOut)
		fitOpts = append(fitOpts, fit.WithProgress(func(block.Key, error) {
			if err := bar.Add(1); err != nil {
				slog.Warn("Failed to update progress bar", "error", err)
			}
		}))
	}

	refs := reference.NewStore(reg, project.Data.Root)
	fitter := fit.New(env.NeighborSource{}, features.Radial{}, solver.NewGonum(), refs, fitOpts...)

	var banks []*bank.Bank
	for _, q := range quantities {
		for _, kind := range []block.Kind{block.OnSite, block.OffSite} {
			b, err := fitBank(ctx, fitter, project, spec, q, kind)
			if err != nil {
				return nil, err
			}
			banks = append(banks, b)
		}
	}

	output := project.Output
	if opts.output != "" {
		output = opts.output
	}
	hdr, err := serialization.SaveFile(output, spec, banks, serialization.WithMetadata(map[string]string{
		"project": filepath.Base(opts.project),
		"data":    project.Data.Root,
	}))
	if err != nil {
		return nil, err
	}

	if promReg != nil {
		if err := prometheus.WriteToTextfile(opts.metrics, promReg); err != nil {
			return nil, fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return hdr, nil
}

// fitBank fits one bank. Banks without declared keys (on-site S, or quantities the
// project excludes) are saved empty.
func fitBank(ctx context.Context, f *fit.Fitter, project *config.Project, spec *params.Specification, q block.Quantity, kind block.Kind) (*bank.Bank, error) {
	if len(spec.Keys(q, kind)) == 0 {
		b, err := f.Plan(spec, q, kind)
		if err != nil {
			return nil, err
		}
		b.Freeze()
		return b, nil
	}

	sel, err := project.Selector(kind)
	if err != nil {
		return nil, err
	}
	if sel == nil {
		return nil, &blockerr.ConfigurationError{
			Key:     fmt.Sprintf("%s:%s", q, kind),
			Details: fmt.Sprintf("%d keys declared but no %s blocks selected", len(spec.Keys(q, kind)), kind),
		}
	}
	return f.Fit(ctx, spec, q, kind, sel)
}

func newProgressBar(total int, w io.Writer) *progressbar.ProgressBar {
	if w == nil {
		w = os.Stderr
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Fitting sub-models...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}
