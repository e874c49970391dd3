package cmd

import (
	"log"

	"github.com/arcward/dynvoice/dynvoice"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot and (optionally) the admin API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			dv, err := dynvoice.New(cfg)
			if err != nil {
				log.Fatalf("error creating dynvoice: %s", err.Error())
			}

			if err = dv.Run(ctx); err != nil {
				log.Fatalf("error running dynvoice: %s", err.Error())
			}
		},
	}
)

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
