package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

var extractorCmd = &cobra.Command{
	Use:     "extractor",
	Aliases: []string{"extractors"},
	Short:   "Manage stored extractors",
}

var extractorCreateFlags struct {
	name         string
	description  string
	schemaFile   string
	instructions string
}

var extractorCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Store a new extractor",
	Long: `Store a new extractor.

Examples:
  docextract extractor create --name invoices --schema invoice.json \
      --instructions "One record per line item."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readFileArg(extractorCreateFlags.schemaFile)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ext, err := s.extractors.Create(cmd.Context(), entity.ExtractorInput{
			Name:         extractorCreateFlags.name,
			Description:  extractorCreateFlags.description,
			Schema:       json.RawMessage(raw),
			Instructions: extractorCreateFlags.instructions,
		})
		if err != nil {
			status(false, "create failed: %v", err)
			return err
		}
		status(true, "created extractor %s", ext.ID)
		return output(ext)
	},
}

var extractorGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one extractor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ext, err := s.extractors.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		return output(ext)
	},
}

var extractorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extractors, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		exts, err := s.extractors.List(cmd.Context())
		if err != nil {
			return err
		}
		if exts == nil {
			exts = []entity.Extractor{}
		}
		return output(exts)
	},
}

var extractorDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an extractor and its examples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.extractors.Delete(cmd.Context(), id); err != nil {
			status(false, "delete failed: %v", err)
			return err
		}
		status(true, "deleted extractor %s", id)
		return nil
	},
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func init() {
	f := extractorCreateCmd.Flags()
	f.StringVar(&extractorCreateFlags.name, "name", "", "extractor name")
	f.StringVar(&extractorCreateFlags.description, "description", "", "what the extractor is for")
	f.StringVar(&extractorCreateFlags.schemaFile, "schema", "", "JSON Schema file (\"-\" for stdin)")
	f.StringVar(&extractorCreateFlags.instructions, "instructions", "", "extra instructions for the model")
	_ = extractorCreateCmd.MarkFlagRequired("name")
	_ = extractorCreateCmd.MarkFlagRequired("schema")

	extractorCmd.AddCommand(extractorCreateCmd, extractorGetCmd, extractorListCmd, extractorDeleteCmd)
}
