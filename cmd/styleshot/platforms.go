package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/platformspec"
)

func newPlatformsCmd() *cobra.Command {
	var style string

	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "List platform output specs, ranked for a style when --style is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlatforms(platformspec.New(), style, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "rank platforms for this style")
	return cmd
}

func runPlatforms(table *platformspec.Table, rawStyle string, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if rawStyle == "" {
		fmt.Fprintln(w, "PLATFORM\tSIZE\tCROP\tMAX SIZE")
		for _, id := range table.Platforms() {
			s := table.Resolve(id, "")
			fmt.Fprintf(w, "%s\t%dx%d\t%s\t%d KB\n", id, s.OutputWidth, s.OutputHeight, s.CropStrategy, s.MaxFileSize/1024)
		}
		return w.Flush()
	}

	style, ok := domain.ParseStyle(rawStyle)
	if !ok {
		return fmt.Errorf("unknown style %q, expected one of %s", rawStyle, styleList())
	}

	fmt.Fprintln(w, "PLATFORM\tFIT\tSIZE\tCROP")
	for _, r := range table.Recommend(style, 0) {
		fmt.Fprintf(w, "%s\t%.2f\t%dx%d\t%s\n", r.Platform, r.Compatibility, r.Spec.OutputWidth, r.Spec.OutputHeight, r.Spec.CropStrategy)
	}
	return w.Flush()
}
