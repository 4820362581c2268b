// Package cli implements digestctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pauljones0/rfd-deal-digest/internal/config"
	"github.com/pauljones0/rfd-deal-digest/internal/storage"
)

func NewCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "digestctl",
		Short:         "RFD deal digest CLI",
		Long:          "Operator tools for the RFD deal digest: send runs, manage subscribers, debug selectors.",
		Example:       fmt.Sprintf("  %s <command> [flags...]", os.Args[0]),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("backend", config.BackendSQL, "Subscriber backend (sql or firestore)")
	flags.String("driver", storage.DriverSQLite, "SQL driver (sqlite3 or postgres)")
	flags.String("database", "subscribers.db", "Database file or connection string")
	flags.String("project", "", "Google Cloud project for the firestore backend")

	for key, env := range map[string]string{
		"backend":  "SUBSCRIBER_BACKEND",
		"driver":   "DATABASE_DRIVER",
		"database": "DATABASE_URL",
		"project":  "GOOGLE_CLOUD_PROJECT",
	} {
		v.BindPFlag(key, flags.Lookup(key))
		v.BindEnv(key, env)
	}

	root.AddCommand(newSendCommand(v))
	root.AddCommand(newSubscribersCommand(v))
	root.AddCommand(newParseCommand())

	return root
}

// storeConfig applies the persistent flags on top of cfg.
func storeConfig(v *viper.Viper, cfg *config.Config) *config.Config {
	cfg.SubscriberBackend = v.GetString("backend")
	cfg.DatabaseDriver = v.GetString("driver")
	cfg.DatabaseURL = v.GetString("database")
	cfg.ProjectID = v.GetString("project")
	return cfg
}

func openStore(ctx context.Context, v *viper.Viper) (storage.SubscriberStore, error) {
	return storage.Open(ctx, storeConfig(v, &config.Config{}))
}
