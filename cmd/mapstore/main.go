package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/walteh/mapstore/cmd/mapstore/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mapstore",
		Short: "Manage downloadable map and routing files",
		Long: `mapstore downloads, updates and deletes versioned map files from a
mirror network, tracked against a hierarchical country catalog.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	addRootFlags(rootCmd)

	rootCmd.AddCommand(
		commands.NewListCmd(newRootOpts),
		commands.NewStatusCmd(newRootOpts),
		commands.NewDownloadCmd(newRootOpts),
		commands.NewUpdateCmd(newRootOpts),
		commands.NewDeleteCmd(newRootOpts),
		commands.NewCancelCmd(newRootOpts),
		commands.NewRestoreCmd(newRootOpts),
		commands.NewMigrateCmd(newRootOpts),
	)

	ctx := log.Logger.WithContext(context.Background())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
