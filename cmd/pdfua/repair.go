package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pdfua/engine"
	"pdfua/ir/semantic"
	"pdfua/structure"
)

var (
	flagOutput  string
	flagRequest string
)

var repairCmd = &cobra.Command{
	Use:   "repair <input.pdf>",
	Short: "Repair accessibility defects",
	Long: `Repair reads a YAML request describing which fixes to apply and the
classification spans produced upstream, rewrites the document, and
prints the compliance report of the result.

Request file shape:

  fixes:
    headings: true
    tables: true
    alt_text: true
    language: true
    title: true
    contrast: true
    tab_order: true
  language: en-US
  title: Annual Report 2025
  authorize_permissions: false
  spans:
    - {page: 1, start: 0, end: 4, tag: H1}
    - {page: 1, start: 4, end: 12, tag: P}
    - page: 2
      start: 0
      end: 18
      tag: Table
      rows:
        - {header: true, cells: [{start: 0, end: 3}, {start: 3, end: 6}]}
        - {cells: [{start: 6, end: 9}, {start: 9, end: 12}]}
    - {page: 2, start: 18, end: 19, tag: Figure, alt: "Revenue chart"}`,
	Args: cobra.ExactArgs(1),
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output path (default <input>.fixed.pdf)")
	repairCmd.Flags().StringVarP(&flagRequest, "request", "r", "", "YAML request file (required)")
	repairCmd.MarkFlagRequired("request")
	rootCmd.AddCommand(repairCmd)
}

// yamlRequest is the on-disk request shape.
type yamlRequest struct {
	Fixes struct {
		Headings bool `yaml:"headings"`
		Tables   bool `yaml:"tables"`
		AltText  bool `yaml:"alt_text"`
		Language bool `yaml:"language"`
		Title    bool `yaml:"title"`
		Contrast bool `yaml:"contrast"`
		TabOrder bool `yaml:"tab_order"`
	} `yaml:"fixes"`
	Language             string     `yaml:"language"`
	Title                string     `yaml:"title"`
	AuthorizePermissions bool       `yaml:"authorize_permissions"`
	Spans                []yamlSpan `yaml:"spans"`
}

type yamlSpan struct {
	Page  int         `yaml:"page"`
	Start int         `yaml:"start"`
	End   int         `yaml:"end"`
	Tag   string      `yaml:"tag"`
	Alt   *string     `yaml:"alt"`
	Rows  []yamlRow   `yaml:"rows"`
	Items []yamlRange `yaml:"items"`
}

type yamlRow struct {
	Header bool        `yaml:"header"`
	Cells  []yamlRange `yaml:"cells"`
}

type yamlRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

func loadRequest(path string) (engine.Request, error) {
	var req engine.Request
	data, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	var y yamlRequest
	if err := yaml.Unmarshal(data, &y); err != nil {
		return req, fmt.Errorf("parse request %s: %w", path, err)
	}

	req.Fixes = engine.FixSet{
		Headings: y.Fixes.Headings,
		Tables:   y.Fixes.Tables,
		AltText:  y.Fixes.AltText,
		Language: y.Fixes.Language,
		Title:    y.Fixes.Title,
		Contrast: y.Fixes.Contrast,
		TabOrder: y.Fixes.TabOrder,
	}
	req.Language = y.Language
	req.Title = y.Title
	req.AuthorizePermissions = y.AuthorizePermissions

	for i, ys := range y.Spans {
		tag, ok := semantic.ParseTag(ys.Tag)
		if !ok {
			return req, fmt.Errorf("span %d: unknown tag %q", i, ys.Tag)
		}
		sp := structure.Span{
			Page:  ys.Page,
			Range: structure.Range{Start: ys.Start, End: ys.End},
			Tag:   tag,
		}
		if ys.Alt != nil {
			sp.Alt = *ys.Alt
			sp.HasAlt = true
		}
		for _, yr := range ys.Rows {
			row := structure.Row{Header: yr.Header}
			for _, c := range yr.Cells {
				row.Cells = append(row.Cells, structure.Range{Start: c.Start, End: c.End})
			}
			sp.Rows = append(sp.Rows, row)
		}
		for _, it := range ys.Items {
			sp.Items = append(sp.Items, structure.Range{Start: it.Start, End: it.End})
		}
		req.Spans = append(req.Spans, sp)
	}
	return req, nil
}

func runRepair(cmd *cobra.Command, args []string) error {
	input := args[0]
	pdf, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	req, err := loadRequest(flagRequest)
	if err != nil {
		return err
	}

	res, err := newEngine().Repair(cmd.Context(), pdf, req)
	if err != nil {
		return err
	}

	output := flagOutput
	if output == "" {
		output = input + ".fixed.pdf"
	}
	if err := os.WriteFile(output, res.PDF, 0o644); err != nil {
		return err
	}

	fmt.Printf("wrote %s (%d bytes, changed=%v)\n", output, len(res.PDF), res.Changed)
	fmt.Printf("fixes: %d elements, %d MCIDs, %d contrast, %d metadata, %d tab-order\n",
		res.Counts.Elements, res.Counts.MCIDs, res.Counts.Contrast,
		res.Counts.Metadata, res.Counts.TabOrder)
	if res.Counts.CoverageGaps > 0 {
		fmt.Printf("coverage gaps: %d\n", res.Counts.CoverageGaps)
	}
	for page, perr := range res.PageErrors {
		fmt.Printf("page %d skipped: %v\n", page, perr)
	}
	if len(res.AmbiguousPages) > 0 {
		fmt.Printf("reading order needs review on pages %v\n", res.AmbiguousPages)
	}
	if len(res.ContrastReview) > 0 {
		fmt.Printf("contrast needs review on pages %v\n", res.ContrastReview)
	}
	printReport(res.Report)
	return nil
}
