// Package cli provides the command-line interface for the self-releaser
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/config"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	version     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "selfreleaser",
	Short: "Local fallback release pipeline for throttled hosted CI",
	Long: `🛟 Self-Releaser - Reproduce your release pipeline on your own machines

When hosted CI is throttled, selfreleaser replays the release workflow on a
small private fleet (one container host plus native macOS and Windows hosts),
then consolidates, signs, and publishes the artifacts locally.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("🛟 Self-Releaser v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	initializeRootCommand()

	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// This replaces the init() function to make initialization explicit and testable.
func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: selfreleaser.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newUnlockCmd())
	rootCmd.AddCommand(newPatternCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(projectRoot)
		viper.SetConfigName("selfreleaser.config")
		viper.SetConfigType("json")
	}

	viper.SetEnvPrefix("SELFRELEASER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// Helper functions

func printSuccess(message string) {
	fmt.Printf("🛟 %s %s\n", color.GreenString("[self-releaser]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "🛟 %s %s\n", color.RedString("[self-releaser]"), message)
}

func printInfo(message string) {
	fmt.Printf("🛟 %s %s\n", color.CyanString("[self-releaser]"), message)
}

func printWarning(message string) {
	fmt.Printf("🛟 %s %s\n", color.YellowString("[self-releaser]"), message)
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(projectRoot, config.DefaultFileName)
}

func loadConfig() (*types.Config, error) {
	mgr := config.NewManager()
	path := getConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return mgr.GetDefaultConfig(), nil
	}
	cfg, err := mgr.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func createLogger(cfg *types.Config) logger.Logger {
	logFile := ""
	level := verbosity
	if cfg.Logging != nil {
		logFile = cfg.Logging.File
		if cfg.Logging.Level != "" && !rootCmd.PersistentFlags().Changed("verbosity") {
			level = cfg.Logging.Level
		}
	}
	return logger.CreateLogger(logFile, level)
}
