package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverCfgFile    string
	inferenceCfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "grps",
	Short: "grps-core-go - a model-serving gateway core",
	Long: `grps-core-go bootstraps a model-serving gateway from two declarative
configuration documents: a server document (transport, resource limits,
GPU memory manager) and an inference document (models and pipeline).

It dynamically batches concurrent requests per model, runs each request
through a converter/inferer stage (or a sequential pipeline of stages),
and exposes the result over HTTP, gRPC, and MCP.

Environment Variables:
  GRPS_LOG_LEVEL        used when serve's --log-level is not given
  GRPS_CACHE_BACKEND    used when serve's --cache-backend is not given
  GRPS_CACHE_REDIS_URL  used when serve's --redis-url is not given
                        (GRPS_REDIS_URL is also read)
  GRPS_VERBOSE          same as --verbose

Keys of the server and inference documents are not read from the
environment; ${VAR} and ${VAR:-default} inside those documents are
expanded instead.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&serverCfgFile, "server-config", "server.yaml", "server config file")
	rootCmd.PersistentFlags().StringVar(&inferenceCfgFile, "inference-config", "inference.yaml", "inference config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig wires environment-variable overrides the way the teacher's
// DISTILL_ prefix does, renamed to this gateway's GRPS_ prefix. The
// config documents themselves are loaded explicitly by each subcommand
// via pkg/config's LoadServerFromFile/LoadInferenceFromFile, not through
// viper's global config-file search, since this gateway always takes two
// named documents rather than one ambient one.
func initConfig() {
	viper.SetEnvPrefix("GRPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
