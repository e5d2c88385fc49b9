package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/certgate/internal/report"
)

var reportPDFOut string

var reportCmd = &cobra.Command{
	Use:     "report <report.json>",
	Short:   "Render a batch report as a summary PDF",
	GroupID: "certs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := report.LoadReportJSON(args[0])
		if err != nil {
			return usageError(fmt.Errorf("load report: %w", err))
		}
		out, err := report.WriteSummary(rep, reportPDFOut)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportPDFOut, "out", "o", "", "output PDF (default report.pdf next to the report)")
}
