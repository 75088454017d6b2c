package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spmedge/pipeline/internal/config"
	"github.com/spmedge/pipeline/internal/processor"
	"github.com/spmedge/pipeline/internal/provider"
)

var (
	processorModel     string
	processorBatchSize int
)

var processorCmd = &cobra.Command{
	Use:   "processor",
	Short: "Run the PROCESS stage: dispatch CLEAN-stage content through an LLM provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		registry, err := buildProviderRegistry(a.cfg)
		if err != nil {
			return configError(err)
		}

		p := processor.NewProcessor(a.pctx, registry, rateLimitParams(a.cfg))
		batchSize := processorBatchSize
		if batchSize <= 0 {
			batchSize = a.cfg.RateLimit.ProcessBatchSize
		}
		summary, err := p.ProcessDocuments(ctx, resolveLimit(), processor.Options{
			Model:     processorModel,
			BatchSize: batchSize,
		})
		if err != nil {
			return operationalError(err)
		}
		fmt.Printf("process: succeeded=%d failed=%d total=%d\n", summary.Succeeded, summary.Failed, summary.Total)
		if summary.Total > 0 && summary.Succeeded == 0 {
			return operationalError(fmt.Errorf("all %d documents failed to process", summary.Total))
		}
		return nil
	},
}

func init() {
	processorCmd.Flags().StringVar(&processorModel, "model", "", `model as "provider/model" (default: the document type's configured default)`)
	processorCmd.Flags().IntVar(&processorBatchSize, "batch-size", 0, "sub-batch size before a rate-limit pause (0 = config default)")
}

// buildProviderRegistry constructs a provider.Registry from cfg.Providers,
// one provider instance per configured name, keyed by that name.
func buildProviderRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	for name, pc := range cfg.Providers {
		switch pc.Type {
		case "openai":
			registry.Register(provider.NewOpenAIProvider(name, pc.URL, pc.APIKey))
		case "genai", "gemini":
			registry.Register(provider.NewGeminiProvider(name, pc.APIKey))
		default:
			return nil, fmt.Errorf("provider %q: unknown type %q (want openai or genai)", name, pc.Type)
		}
	}
	return registry, nil
}

// rateLimitParams converts config.RateLimitConfig's float-seconds fields
// into the time.Duration values internal/processor works with.
func rateLimitParams(cfg *config.Config) processor.RateLimitParams {
	rl := cfg.RateLimit
	return processor.RateLimitParams{
		MinInterval:  time.Duration(rl.MinIntervalSeconds * float64(time.Second)),
		BaseBackoff:  time.Duration(rl.BaseBackoffSeconds * float64(time.Second)),
		MaxBackoff:   time.Duration(rl.MaxBackoffSeconds * float64(time.Second)),
		MaxRetries:   rl.MaxRetries,
		SubBatchSize: rl.ProcessBatchSize,
	}
}
