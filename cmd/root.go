package cmd

import (
	"fmt"
	"os"

	"PhuzzyAudio/config"
	"PhuzzyAudio/logger"

	"github.com/spf13/cobra"
)

var (
	cfg         *config.Config
	backendFlag string
)

var rootCmd = &cobra.Command{
	Use:   "phuzzy-audio",
	Short: "PhuzzyAudio is a multi-channel audio engine for scenario games.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "音频后端 auto|speaker|null，覆盖 AUDIO_BACKEND")
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
