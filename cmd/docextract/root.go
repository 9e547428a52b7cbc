package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/docextract/internal/app"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

var (
	cfgFile      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "docextract",
	Short: "Schema-driven structured data extraction with LLMs",
	Long: `docextract turns documents into JSON records that conform to a
JSON Schema, using a language model plus validation and repair.

Extractors (a schema, instructions and few-shot examples) are stored in
the database and can be used from this CLI, the REST API or gRPC.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return common.NewValidator().
			Field("output", outputFormat, common.OneOf("json", "yaml")).
			Err()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (yaml, toml or json); env vars take precedence",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "json", "output format: json or yaml",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "warn", "log level: debug, info, warn or error",
	)

	rootCmd.AddCommand(serveCmd, migrateCmd, watchCmd, extractCmd, suggestCmd, extractorCmd, exampleCmd)
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return app.NewLogger(level)
}

func loadConfig() (*common.Config, error) {
	cfg, err := common.LoadConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp builds the full application, model backend included.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, newLogger())
}

// store is the database side of the app, for commands that never call a model.
type store struct {
	db         *repository.DB
	extractors repository.ExtractorRepository
	examples   repository.ExampleRepository
}

func openStore(cmd *cobra.Command) (*store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStoreWith(cmd, cfg)
}

func openStoreWith(cmd *cobra.Command, cfg *common.Config) (*store, error) {
	logger := newLogger()
	db, err := repository.Open(cmd.Context(), cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(cmd.Context()); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &store{
		db:         db,
		extractors: repository.NewExtractorRepository(db, logger),
		examples:   repository.NewExampleRepository(db, logger),
	}, nil
}

func (s *store) Close() { s.db.Close() }

// output writes v to stdout in the selected format.
func output(v any) error {
	return outputTo(os.Stdout, outputFormat, v)
}

func outputTo(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		// Round-trip through JSON so raw JSON fields render as YAML structure.
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

// status prints a human-readable line to stderr so stdout stays parseable.
func status(ok bool, format string, args ...any) {
	if ok {
		_, _ = okColor.Fprint(os.Stderr, "✓ ")
	} else {
		_, _ = failColor.Fprint(os.Stderr, "✗ ")
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func readFileArg(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
