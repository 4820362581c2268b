package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pauljones0/rfd-deal-digest/internal/config"
	"github.com/pauljones0/rfd-deal-digest/internal/digest"
	"github.com/pauljones0/rfd-deal-digest/internal/notifier"
	"github.com/pauljones0/rfd-deal-digest/internal/processor"
	"github.com/pauljones0/rfd-deal-digest/internal/scraper"
	"github.com/pauljones0/rfd-deal-digest/internal/storage"
)

// ErrRunAborted makes the process exit non-zero when a run did not send.
var ErrRunAborted = errors.New("digest run aborted")

func newSendCommand(v *viper.Viper) *cobra.Command {
	var test bool
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Fetch the listing and email the digest once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			storeConfig(v, cfg)
			slog.SetDefault(config.NewLogger(cfg, cmd.ErrOrStderr()))

			store, err := storage.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			fetcher, err := scraper.NewFetcher(cfg)
			if err != nil {
				return err
			}

			p := processor.New(
				fetcher,
				scraper.NewParser(scraper.LoadConfig()),
				digest.New(cfg.MaxDeals, cfg.HotDealsURL),
				store,
				notifier.NewFromConfig(cfg),
				cfg.HotDealsURL,
			)

			trigger := processor.TriggerScheduled
			if test {
				trigger = processor.TriggerManual
			}
			report := p.Run(cmd.Context(), trigger)
			fmt.Fprintln(cmd.OutOrStdout(), report.Message())
			if !report.OK() {
				return fmt.Errorf("%w: %w", ErrRunAborted, report.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&test, "test", false, "Use the test subject line")
	return cmd
}
