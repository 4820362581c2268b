package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pauljones0/rfd-deal-digest/internal/scraper"
)

func newParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a saved listing page and print the deals as JSON",
		Args:  cobra.ExactArgs(1),
		Example: "" +
			"  curl -s https://forums.redflagdeals.com/hot-deals-f9/ > page.html\n" +
			"  " + os.Args[0] + " parse page.html",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			deals, err := scraper.NewParser(scraper.LoadConfig()).Parse(string(data))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if err := enc.Encode(deals); err != nil {
				return fmt.Errorf("encode deals: %w", err)
			}
			return nil
		},
	}
}
