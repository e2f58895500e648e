package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yokitheyo/styleshot/internal/bootstrap"
	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/helpers"
	"github.com/yokitheyo/styleshot/internal/infrastructure/metrics"
	"github.com/yokitheyo/styleshot/internal/platformspec"
)

type transformOptions struct {
	inputs     []string
	style      string
	platforms  string
	outputDir  string
	dramatic   bool
	premium    bool
	maxOutputs int
	timeout    time.Duration
}

func newTransformCmd(g *globalFlags) *cobra.Command {
	opts := &transformOptions{}

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform one or more photos for the given platforms",
		Example: `  styleshot transform -i me.jpg --style executive --platforms linkedin,resume -o out/
  styleshot transform -i a.jpg -i b.png --style creative --platforms instagram --dramatic`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.orchestratorConfig()
			if err != nil {
				return err
			}
			return runTransform(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.inputs, "input", "i", nil, "source image, repeatable")
	f.StringVar(&opts.style, "style", string(domain.StyleCorporate), "one of "+styleList())
	f.StringVar(&opts.platforms, "platforms", "linkedin", "comma separated platform ids")
	f.StringVarP(&opts.outputDir, "output", "o", ".", "directory for the results")
	f.BoolVar(&opts.dramatic, "dramatic", false, "stronger styling")
	f.BoolVar(&opts.premium, "premium", false, "allow premium-only tiers")
	f.IntVar(&opts.maxOutputs, "max-outputs", 0, "cap on platforms per photo, 0 for all")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "deadline for the whole batch")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runTransform(ctx context.Context, cfg config.OrchestratorConfig, opts *transformOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	style, ok := domain.ParseStyle(opts.style)
	if !ok {
		return fmt.Errorf("unknown style %q, expected one of %s", opts.style, styleList())
	}
	if err := os.MkdirAll(opts.outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	sink := metrics.NewLogSink()
	orch, err := bootstrap.NewOrchestrator(cfg, platformspec.New(), sink)
	if err != nil {
		return err
	}
	defer orch.Close()

	platforms := helpers.SplitAndTrim(opts.platforms, ",")
	reqs := make([]domain.TransformationRequest, 0, len(opts.inputs))
	for _, path := range opts.inputs {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		reqs = append(reqs, domain.NewTransformationRequest(uuid.NewString(), data, style, platforms, domain.TransformOptions{
			Dramatic:         opts.dramatic,
			PremiumRequested: opts.premium,
			MaxOutputs:       opts.maxOutputs,
		}))
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	var failed []error
	for i, item := range orch.TransformBatch(ctx, reqs) {
		src := opts.inputs[i]
		if item.Err != nil {
			fmt.Fprintf(out, "%s: rejected: %v\n", src, item.Err)
			failed = append(failed, fmt.Errorf("%s: %w", src, item.Err))
			continue
		}
		res := item.Result
		if res.Cancelled() {
			fmt.Fprintf(out, "%s: cancelled\n", src)
			failed = append(failed, fmt.Errorf("%s: cancelled", src))
			continue
		}

		written, err := writeOutputs(opts.outputDir, src, res)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		fmt.Fprintf(out, "%s: %s via %s/%s, quality %.1f\n", src, res.Enhancement(), res.Tier, res.Provider, res.Quality.Score)
		for _, w := range written {
			fmt.Fprintf(out, "  %s\n", w)
		}
	}

	return errors.Join(failed...)
}

// writeOutputs names files "<source base>_<platform>.<ext>".
func writeOutputs(dir, src string, res *domain.TransformationResult) ([]string, error) {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	written := make([]string, 0, len(res.Outputs))
	for _, platform := range sortedKeys(res.Outputs) {
		img := res.Outputs[platform].Image
		ext := ".jpg"
		if img.Format == "png" {
			ext = ".png"
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s%s", base, platform, ext))
		if err := os.WriteFile(path, img.Data, 0644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, fmt.Sprintf("%s (%dx%d)", path, img.Width, img.Height))
	}
	return written, nil
}

func styleList() string {
	styles := domain.Styles()
	names := make([]string, len(styles))
	for i, s := range styles {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
