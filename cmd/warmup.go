package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/nkazachenko/grps-core-go/pkg/config"
	"github.com/nkazachenko/grps-core-go/pkg/engine"
)

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Bootstrap the engine once to preload every configured model",
	Long: `Loads the server and inference configuration documents and runs
each model's Init/Load exactly as "serve" would at startup, reporting a
progress bar as each model finishes loading, then exits. Useful for
validating a config and warming model weights before a real deployment.

Example:
  grps warmup --server-config server.yaml --inference-config inference.yaml`,
	RunE: runWarmup,
}

func init() {
	rootCmd.AddCommand(warmupCmd)
}

func runWarmup(cmd *cobra.Command, args []string) error {
	serverCfg, err := config.LoadServerFromFile(serverCfgFile)
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}
	inferCfg, err := config.LoadInferenceFromFile(inferenceCfgFile)
	if err != nil {
		return fmt.Errorf("load inference config: %w", err)
	}

	bar := progressbar.NewOptions(
		len(inferCfg.Models),
		progressbar.OptionSetDescription("Loading models"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)

	eng, err := engine.Bootstrap(serverCfg, inferCfg, engine.Options{
		OnModelReady: func(key string) {
			_ = bar.Add(1)
			fmt.Fprintf(os.Stderr, "\n  loaded %s\n", key)
		},
	})
	if err != nil {
		return fmt.Errorf("bootstrap engine: %w", err)
	}
	eng.Stop()

	fmt.Fprintf(os.Stderr, "All %d model(s) loaded successfully\n", len(inferCfg.Models))
	return nil
}
