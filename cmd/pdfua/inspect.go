package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"pdfua/ir/semantic"
)

var flagDump bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <input.pdf>",
	Short: "Print the document's accessibility state",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&flagDump, "dump", false, "dump the full semantic model")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	pdf, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	doc, err := newEngine().Load(cmd.Context(), pdf)
	if err != nil {
		return err
	}

	fmt.Printf("pages: %d\n", len(doc.Pages))
	fmt.Printf("lang: %q  marked: %v  encrypted: %v\n", doc.Lang, doc.Marked, doc.Encrypted)
	if doc.Info != nil {
		fmt.Printf("title: %q\n", doc.Info.Title)
	}
	fmt.Printf("extract-accessible: %v\n", doc.Permissions.ExtractAccessible)

	if doc.StructTree == nil {
		fmt.Println("structure tree: none")
	} else {
		fmt.Println("structure tree:")
		for _, kid := range doc.StructTree.Kids {
			printElement(kid, 1)
		}
	}

	if flagDump {
		spew.Config.MaxDepth = 6
		spew.Dump(doc)
	}
	return nil
}

func printElement(e *semantic.StructureElement, depth int) {
	indent := strings.Repeat("  ", depth)
	name := e.Tag.String()
	if e.RawType != "" && e.RawType != name {
		name = fmt.Sprintf("%s (%s)", name, e.RawType)
	}
	detail := ""
	if len(e.Content) > 0 {
		mcids := make([]int, 0, len(e.Content))
		for _, ref := range e.Content {
			mcids = append(mcids, ref.MCID)
		}
		detail = fmt.Sprintf(" page=%d mcids=%v", e.PageIndex, mcids)
	}
	if e.HasAlt {
		detail += fmt.Sprintf(" alt=%q", e.Alt)
	}
	fmt.Printf("%s%s%s\n", indent, name, detail)
	for _, kid := range e.Kids {
		printElement(kid, depth+1)
	}
}
