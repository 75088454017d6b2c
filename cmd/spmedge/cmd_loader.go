package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spmedge/pipeline/internal/loader"
)

var (
	loaderFormat string
	loaderRetry  bool
)

var loaderCmd = &cobra.Command{
	Use:   "loader",
	Short: "Run the LOAD stage: extract content from each document's source file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		l := loader.NewLoader(a.pctx)
		l.RetryFailed = loaderRetry
		switch loaderFormat {
		case "json", "":
			l.OutputFormat = loader.OutputJSON
		case "text":
			l.OutputFormat = loader.OutputText
		case "markdown":
			l.OutputFormat = loader.OutputMarkdown
		default:
			return configError(fmt.Errorf("unknown --format %q (want json, text, or markdown)", loaderFormat))
		}

		summary, err := l.LoadDocuments(ctx, resolveLimit())
		if err != nil {
			return operationalError(err)
		}
		fmt.Printf("load: succeeded=%d failed=%d total=%d\n", summary.Succeeded, summary.Failed, summary.Total)
		if summary.Total > 0 && summary.Succeeded == 0 {
			return operationalError(fmt.Errorf("all %d documents failed to load", summary.Total))
		}
		return nil
	},
}

func init() {
	loaderCmd.Flags().StringVar(&loaderFormat, "format", "json", "artifact output format: json, text, or markdown")
	loaderCmd.Flags().BoolVar(&loaderRetry, "retry", false, "retry documents previously failed at this stage")
}
