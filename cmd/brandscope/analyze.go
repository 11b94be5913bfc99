package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/brandscope/internal/analysis"
	"github.com/mohammad-safakhou/brandscope/internal/citation"
	"github.com/mohammad-safakhou/brandscope/internal/helpers"
	srv "github.com/mohammad-safakhou/brandscope/internal/server"
	"github.com/spf13/cobra"
)

func analyzeCMD(cfgPath *string) *cobra.Command {
	var req analysis.Request
	analyze := &cobra.Command{
		Use:   "analyze <brand>",
		Short: "Run a one-shot brand analysis and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			app, err := srv.Build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			req.Brand = args[0]
			report, err := app.Handler.Analyzer.Run(cmd.Context(), uuid.NewString(), req)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	analyze.Flags().StringSliceVar(&req.Competitors, "competitors", nil, "comma separated competitor brands")
	analyze.Flags().StringVar(&req.Category, "category", "", "market category")
	analyze.Flags().StringVar(&req.Country, "country", "", "market country")
	return analyze
}

// printReport writes the nine categories as plain text. Every insight is
// followed by its own footnotes since citation numbers restart per insight.
func printReport(w io.Writer, r *analysis.Report) {
	fmt.Fprintf(w, "%s", r.Brand)
	if len(r.Competitors) > 0 {
		fmt.Fprintf(w, " vs %s", strings.Join(r.Competitors, ", "))
	}
	fmt.Fprintln(w)
	for _, key := range analysis.CategoryKeys {
		cat := r.MarketingCs[key]
		fmt.Fprintf(w, "\n== %s ==\n", cat.Title)
		for _, topic := range cat.Topics {
			fmt.Fprintf(w, "\n* %s\n", topic.Headline)
			for _, insight := range topic.Insights {
				segs := citation.ParseInsight(insight)
				fmt.Fprintf(w, "  - %s\n", strings.ReplaceAll(helpers.PlainWithMarkers(segs), "\n", "\n    "))
				for _, note := range helpers.FormatCitations(segs) {
					fmt.Fprintf(w, "      %s\n", note)
				}
			}
		}
	}
}
