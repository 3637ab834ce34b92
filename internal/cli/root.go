package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/lambdakit/internal/control"
	"github.com/vietddude/lambdakit/internal/core/config"
	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/reliability/batch"
)

var (
	cfgPath     string
	isDebug     bool
	handlerName string
)

var rootCmd = &cobra.Command{
	Use:   "lambdakit",
	Short: "Lambda runtime wrapper with retries and partial batch failures",
	Long: `lambdakit runs a batch handler behind SQS or Kinesis triggers, retrying calls to
S3, SQS and Athena and reporting only the failed items back to the trigger.`,
	SilenceUsage: true,
	RunE:         runLambda,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&handlerName, "handler", "relay", "batch handler: relay or log")
}

// loadConfig reads the config file. A missing default file falls back to defaults,
// so the function can be deployed with environment only.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		stylelog.InitDefault()
		return nil, err
	}

	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	slogLevel := slog.LevelInfo
	switch {
	case isDebug || cfg.Level == "debug":
		slogLevel = slog.LevelDebug
	case cfg.Level == "warn":
		slogLevel = slog.LevelWarn
	case cfg.Level == "error":
		slogLevel = slog.LevelError
	}

	// CloudWatch indexes JSON fields
	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel})))
		return
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
}

// setup loads config and builds the app and the selected handler.
func setup(cmd *cobra.Command) (*control.App, batch.Handler, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	app, err := control.New(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	h, err := selectHandler(app)
	if err != nil {
		_ = app.Close()
		return nil, nil, err
	}
	return app, h, nil
}

func selectHandler(app *control.App) (batch.Handler, error) {
	switch handlerName {
	case "relay":
		relay, err := app.Relay()
		if err != nil {
			return nil, fmt.Errorf("failed to build relay: %w", err)
		}
		return relay.Handle, nil
	case "log":
		return func(ctx context.Context, item domain.BatchItem) error {
			slog.Info("Item received", "item_id", item.ID, "bytes", len(item.Payload), "attributes", item.Attributes)
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown handler %q", handlerName)
	}
}

func runLambda(cmd *cobra.Command, args []string) error {
	app, h, err := setup(cmd)
	if err != nil {
		slog.Error("Startup failed", "error", err)
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	slog.Info("Starting Lambda runtime", "handler", handlerName)
	lambda.Start(app.LambdaHandler(h))
	return nil
}
