package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/seed"
)

// newSeedCmd creates the 'seed' subcommand, which loads target URLs
// from the configured JSON file into the queue.
func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [file]",
		Short: "Load target URLs into the crawl queue",
		Long: `Reads a JSON file of product page URLs and inserts them into the
queue as todo rows. URLs already queued are skipped, so seeding is
safe to re-run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSeedCommand,
	}
	return cmd
}

func runSeedCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	file := appInstance.Config.Seed.File
	if len(args) > 0 {
		file = args[0]
	}

	urls, err := seed.Load(file)
	if err != nil {
		return err
	}

	inserted, err := seed.Run(
		cmd.Context(),
		appInstance.Queue,
		urls,
		appInstance.Config.Seed.BatchSize,
		appInstance.Logger,
	)
	if err != nil {
		return fmt.Errorf("seed queue: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d of %d URLs (%d already queued)\n",
		inserted, len(urls), int64(len(urls))-inserted)
	return nil
}
