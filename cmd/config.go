package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nkazachenko/grps-core-go/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage grps-core-go configuration",
	Long:  `Commands for creating and validating the server and inference configuration documents.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate server.yaml and inference.yaml templates",
	Long: `Creates starter server and inference configuration documents.

Example:
  grps config init
  grps config init --server-output /etc/grps/server.yaml --inference-output /etc/grps/inference.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the server and inference configuration documents",
	Long: `Reads and validates both configuration documents named by
--server-config/--inference-config, reporting every error found.

Example:
  grps config validate
  grps config validate --server-config server.yaml --inference-config inference.yaml`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().String("server-output", "server.yaml", "server config output path")
	configInitCmd.Flags().String("inference-output", "inference.yaml", "inference config output path")
	configInitCmd.Flags().Bool("stdout", false, "print both templates to stdout instead of writing files")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	toStdout, _ := cmd.Flags().GetBool("stdout")
	serverOut, _ := cmd.Flags().GetString("server-output")
	inferenceOut, _ := cmd.Flags().GetString("inference-output")

	if toStdout {
		fmt.Print(config.GenerateServerTemplate())
		fmt.Println("---")
		fmt.Print(config.GenerateInferenceTemplate())
		return nil
	}

	if err := writeTemplateIfAbsent(serverOut, config.GenerateServerTemplate()); err != nil {
		return err
	}
	if err := writeTemplateIfAbsent(inferenceOut, config.GenerateInferenceTemplate()); err != nil {
		return err
	}
	return nil
}

func writeTemplateIfAbsent(path, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file %s already exists (use --stdout to print instead)", path)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Created %s\n", path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.LoadServerFromFile(serverCfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed for %s:\n%v\n", serverCfgFile, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Server config file %s is valid\n", serverCfgFile)

	if _, err := config.LoadInferenceFromFile(inferenceCfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed for %s:\n%v\n", inferenceCfgFile, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Inference config file %s is valid\n", inferenceCfgFile)
	return nil
}
