package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

var exampleCmd = &cobra.Command{
	Use:     "example",
	Aliases: []string{"examples"},
	Short:   "Manage an extractor's few-shot examples",
}

var exampleAddFlags struct {
	content     string
	contentFile string
	recordsFile string
}

var exampleAddCmd = &cobra.Command{
	Use:   "add <extractor-id>",
	Short: "Attach an input/output example to an extractor",
	Long: `Attach an input/output example to an extractor. The records file holds
the JSON array of records the model should produce for the content.

Examples:
  docextract example add 6f1c... --content "Alice is 30" --records alice.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		content := exampleAddFlags.content
		if exampleAddFlags.contentFile != "" {
			b, err := readFileArg(exampleAddFlags.contentFile)
			if err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			content = string(b)
		}
		records, err := readFileArg(exampleAddFlags.recordsFile)
		if err != nil {
			return fmt.Errorf("read records: %w", err)
		}

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ex, err := s.examples.Create(cmd.Context(), id, content, json.RawMessage(records))
		if err != nil {
			status(false, "add failed: %v", err)
			return err
		}
		status(true, "added example %s to extractor %s", ex.ID, id)
		return output(ex)
	},
}

var exampleListCmd = &cobra.Command{
	Use:   "list <extractor-id>",
	Short: "List an extractor's examples, oldest first",
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

		if _, err := s.extractors.Get(cmd.Context(), id); err != nil {
			return err
		}
		exs, err := s.examples.ListByExtractor(cmd.Context(), id)
		if err != nil {
			return err
		}
		if exs == nil {
			exs = []entity.Example{}
		}
		return output(exs)
	},
}

func init() {
	f := exampleAddCmd.Flags()
	f.StringVar(&exampleAddFlags.content, "content", "", "example input text")
	f.StringVar(&exampleAddFlags.contentFile, "content-file", "", "file holding the example input text")
	f.StringVar(&exampleAddFlags.recordsFile, "records", "", "JSON file with the expected records array")
	exampleAddCmd.MarkFlagsMutuallyExclusive("content", "content-file")
	exampleAddCmd.MarkFlagsOneRequired("content", "content-file")
	_ = exampleAddCmd.MarkFlagRequired("records")

	exampleCmd.AddCommand(exampleAddCmd, exampleListCmd)
}
