package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/born-ml/blockfit/internal/serialization"
)

func inspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <model.hblk>",
		Short: "Show the header of a model file",
		Long:  `Print the model id, solver settings, shell declarations and the sub-models stored per bank without reading coefficients.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hdr, err := serialization.ReadHeaderFile(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(hdr)
			}
			return printHeader(cmd.OutOrStdout(), hdr)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON header")
	return cmd
}

func printHeader(out io.Writer, hdr *serialization.Header) error {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Model"), hdr.ModelID)
	fmt.Fprintf(out, "  created   %s\n", hdr.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "  format    v%d (library %s)\n", hdr.FormatVersion, hdr.LibraryVersion)
	fmt.Fprintf(out, "  solver    %s, regularization %s\n", hdr.Solver, hdr.Regularization)
	for _, k := range slices.Sorted(maps.Keys(hdr.Metadata)) {
		fmt.Fprintf(out, "  %-9s %s\n", k, hdr.Metadata[k])
	}

	fmt.Fprintf(out, "\n%s\n", headerStyle.Render("Basis"))
	for _, species := range slices.Sorted(maps.Keys(hdr.Registry)) {
		shells := make([]string, 0, len(hdr.Registry[species]))
		for _, s := range hdr.Registry[species] {
			shells = append(shells, fmt.Sprintf("l=%d×%d", s.L, s.N))
		}
		fmt.Fprintf(out, "  %-3s %s\n", species, strings.Join(shells, " "))
	}

	fmt.Fprintf(out, "\n%s\n", headerStyle.Render("Banks"))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
		headerStyle.Render("Bank"),
		headerStyle.Render("Sub-models"),
		headerStyle.Render("Coefficients"),
		headerStyle.Render("Max cutoff"))
	for _, b := range hdr.Banks {
		var n, coeffs int
		var cutoff float64
		for _, m := range hdr.Models {
			if m.Key.Quantity != b.Quantity || m.Key.Kind != b.Kind {
				continue
			}
			n++
			coeffs += m.Features * m.Rows * m.Cols
			cutoff = max(cutoff, m.Hyper.Cutoff)
		}
		if n == 0 {
			fmt.Fprintf(w, "  %s:%s\t%s\t\t\n", b.Quantity, b.Kind, dim.Render("(none)"))
			continue
		}
		fmt.Fprintf(w, "  %s:%s\t%d\t%d\t%.3g\n", b.Quantity, b.Kind, n, coeffs, cutoff)
	}
	return w.Flush()
}
