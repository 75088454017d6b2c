package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spmedge/pipeline/internal/cleaner"
)

var cleanerCmd = &cobra.Command{
	Use:   "cleaner",
	Short: "Run the CLEAN stage: segment and rewrite LOAD-stage content via the dynamic rule set",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		c := cleaner.NewCleaner(a.pctx)
		summary, err := c.CleanDocuments(ctx, resolveLimit())
		if err != nil {
			return operationalError(err)
		}
		fmt.Printf("clean: succeeded=%d failed=%d total=%d\n", summary.Succeeded, summary.Failed, summary.Total)
		if summary.Total > 0 && summary.Succeeded == 0 {
			return operationalError(fmt.Errorf("all %d documents failed to clean", summary.Total))
		}
		return nil
	},
}
