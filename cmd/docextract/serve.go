package main

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC and REST servers",
	Long: `Run the gRPC (GRPC_ADDR) and REST (HTTP_ADDR) servers until
interrupted. Set either address to "" to disable that server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Database.AutoMigrate = false
		s, err := openStoreWith(cmd, cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.db.Migrate(cmd.Context()); err != nil {
			status(false, "migration failed: %v", err)
			return err
		}
		status(true, "schema up to date (%s)", s.db.Dialect())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Extract every new file in WATCH_DIR with WATCH_EXTRACTOR_ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
			a.Config.Ingest.WatchDir = dir
		}
		if id, _ := cmd.Flags().GetString("extractor"); id != "" {
			a.Config.Ingest.ExtractorID = id
		}
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			a.Config.Ingest.OutputDir = out
		}
		return a.Watch(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().String("dir", "", "directory to watch (overrides WATCH_DIR)")
	watchCmd.Flags().String("extractor", "", "extractor id (overrides WATCH_EXTRACTOR_ID)")
	watchCmd.Flags().String("out", "", "output directory (overrides WATCH_OUTPUT_DIR)")
}
