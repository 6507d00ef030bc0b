package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pitchbox/pitchbox/internal/server"
	"github.com/pitchbox/pitchbox/internal/version"
)

func main() {
	// .env overrides come before ConfigFromEnv reads the environment.
	godotenv.Load()

	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:   slog.LevelDebug,
		NoColor: !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := server.ConfigFromEnv()

	rootCmd := &cobra.Command{
		Use:     "pitchbox-server",
		Short:   "PitchBox upload and analysis server",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := server.New(config)
			if err != nil {
				return err
			}
			defer slog.Info("Bye!")
			return s.Start(cmd.Context())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&config.HTTP.Addr, "bind", "b", config.HTTP.Addr, "address to bind the server")
	flags.StringVar(&config.HTTP.CertFile, "cert", config.HTTP.CertFile, "path to the certificate file")
	flags.StringVar(&config.HTTP.KeyFile, "key", config.HTTP.KeyFile, "path to the key file")
	flags.StringVarP(&config.DataDir, "data", "d", config.DataDir, "data directory for videos and sessions")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
