package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pauljones0/rfd-deal-digest/internal/validator"
)

func newSubscribersCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribers",
		Short: "Manage digest subscribers",
		Example: "  # Add or reactivate a subscriber\n" +
			"  " + os.Args[0] + " subscribers add someone@example.com\n" +
			"  # List unsubscribed addresses\n" +
			"  " + os.Args[0] + " subscribers list --inactive",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <email>...",
		Short: "Subscribe or reactivate addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer store.Close()

			val := validator.New()
			for _, email := range args {
				if err := val.ValidateEmail(email); err != nil {
					return err
				}
				status, err := store.AddOrReactivate(cmd.Context(), email)
				if err != nil {
					return fmt.Errorf("%s: %w", email, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", email, status)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <email>...",
		Short: "Deactivate addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, email := range args {
				if err := store.Deactivate(cmd.Context(), email); err != nil {
					return fmt.Errorf("%s: %w", email, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: deactivated\n", email)
			}
			return nil
		},
	})

	var inactive bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List active (or inactive) subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer store.Close()

			subs, err := store.ListSubscribers(cmd.Context(), !inactive)
			if err != nil {
				return err
			}
			for _, sub := range subs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", sub.Email, sub.SubscribedAt.Format(time.DateTime))
			}
			return nil
		},
	}
	list.Flags().BoolVar(&inactive, "inactive", false, "List unsubscribed addresses instead")
	cmd.AddCommand(list)

	return cmd
}
