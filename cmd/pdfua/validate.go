package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pdfua/compliance"
)

var validateCmd = &cobra.Command{
	Use:   "validate <input.pdf>",
	Short: "Check compliance without modifying the file",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	pdf, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	report, err := newEngine().Validate(cmd.Context(), pdf)
	if err != nil {
		return err
	}
	printReport(report)
	if !report.Compliant {
		return fmt.Errorf("%s: not compliant", args[0])
	}
	return nil
}

func printReport(report *compliance.Report) {
	if report == nil {
		return
	}
	fmt.Printf("%s: compliant=%v\n", report.Standard, report.Compliant)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "RULE\tVERDICT\tPAGE\tDETAIL")
	for _, r := range report.Results {
		page := ""
		if r.Page > 0 {
			page = fmt.Sprint(r.Page)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Rule, r.Verdict, page, r.Detail)
	}
}
