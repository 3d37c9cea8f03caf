// cmd/table.go
package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Print the Morse code table",
	Args:  cobra.NoArgs,
	RunE:  runTable,
}

func init() {
	tableCmd.Flags().StringP("class", "c", "", "only show letters, digits, punctuation or prosigns")
}

func runTable(cmd *cobra.Command, _ []string) error {
	filter, _ := cmd.Flags().GetString("class")
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter != "" && !validClass(filter) {
		return fmt.Errorf("unknown class %q (want letters, digits, punctuation or prosigns)", filter)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	current := cw.Class(255)
	for _, e := range cw.Table() {
		if filter != "" && e.Class.String() != filter {
			continue
		}
		if e.Class != current {
			if current != cw.Class(255) {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s:\n", e.Class)
			current = e.Class
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", e.Symbol, e.Pattern, meaning(e))
	}
	return w.Flush()
}

// meaning notes when a pattern is shared between punctuation and a prosign.
func meaning(e cw.Entry) string {
	if a, ok := cw.Alias(e.Pattern); ok && a.Symbol != e.Symbol {
		if e.Meaning == "" {
			return "same as " + a.Symbol
		}
		return e.Meaning + ", same as " + a.Symbol
	}
	if d, ok := cw.Lookup(e.Pattern); ok && d.Symbol != e.Symbol {
		if e.Meaning == "" {
			return "decodes as " + d.Symbol
		}
		return e.Meaning + ", decodes as " + d.Symbol
	}
	return e.Meaning
}

func validClass(name string) bool {
	for _, c := range []cw.Class{cw.Letter, cw.Digit, cw.Punctuation, cw.Prosign} {
		if c.String() == name {
			return true
		}
	}
	return false
}
