package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/extraction"
)

var extractFlags struct {
	extractor    string
	schemaFile   string
	instructions string
	text         string
	contentType  string
	model        string
	chunkSize    int
	chunkOverlap int
}

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract records from a document",
	Long: `Extract records from a document with a stored extractor (--extractor)
or an ad-hoc schema (--schema). The document is either a file argument,
"-" for stdin, or inline --text.

Examples:
  docextract extract --extractor 6f1c... invoice.pdf
  docextract extract --schema person.json --text "Alice is 30"
  cat page.html | docextract extract --schema s.json --content-type text/html -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := extraction.ExtractInput{
			ExtractorID:  extractFlags.extractor,
			Instructions: extractFlags.instructions,
			Text:         extractFlags.text,
			ContentType:  extractFlags.contentType,
			Model:        extractFlags.model,
			ChunkSize:    extractFlags.chunkSize,
			ChunkOverlap: extractFlags.chunkOverlap,
		}
		if extractFlags.schemaFile != "" {
			raw, err := readFileArg(extractFlags.schemaFile)
			if err != nil {
				return fmt.Errorf("read schema: %w", err)
			}
			in.Schema = json.RawMessage(raw)
		}
		if len(args) == 1 {
			if in.Text != "" {
				return fmt.Errorf("pass either a file or --text, not both")
			}
			data, err := readFileArg(args[0])
			if err != nil {
				return err
			}
			in.Data = data
			in.Filename = filepath.Base(args[0])
			if in.ContentType == "" {
				in.ContentType = constants.ContentTypeForExt(filepath.Ext(args[0]))
			}
		}

		req, err := in.Request()
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Service.Extract(cmd.Context(), req)
		if err != nil {
			status(false, "extraction failed [%s/%s]: %v", common.StageOf(err), common.CodeOf(err), err)
			return err
		}
		status(true, "%d record(s) in %d attempt(s) over %d chunk(s)", len(res.Records), res.Attempts, res.Chunks)
		return output(res)
	},
}

var suggestDraft string

var suggestCmd = &cobra.Command{
	Use:   "suggest <description>",
	Short: "Ask the model for a JSON Schema matching a description",
	Long: `Ask the model for a JSON Schema matching a plain-language description.
With --draft, the model revises an existing schema instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var draft string
		if suggestDraft != "" {
			raw, err := readFileArg(suggestDraft)
			if err != nil {
				return fmt.Errorf("read draft: %w", err)
			}
			draft = extraction.SuggestInput{CurrentDraft: raw}.Draft()
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sug, err := a.Service.SuggestSchema(cmd.Context(), args[0], draft)
		if err != nil {
			status(false, "suggestion failed: %v", err)
			return err
		}
		status(true, "schema suggested in %d attempt(s)", sug.Attempts)
		return output(sug.Schema)
	},
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractFlags.extractor, "extractor", "", "stored extractor id")
	f.StringVar(&extractFlags.schemaFile, "schema", "", "JSON Schema file for an ad-hoc extraction")
	f.StringVar(&extractFlags.instructions, "instructions", "", "instructions for an ad-hoc extraction")
	f.StringVar(&extractFlags.text, "text", "", "inline document text")
	f.StringVar(&extractFlags.contentType, "content-type", "", "document content type (default: from the file extension)")
	f.StringVar(&extractFlags.model, "model", "", "model name override")
	f.IntVar(&extractFlags.chunkSize, "chunk-size", 0, "split text into chunks of this many characters")
	f.IntVar(&extractFlags.chunkOverlap, "chunk-overlap", 0, "characters shared by adjacent chunks")
	extractCmd.MarkFlagsMutuallyExclusive("extractor", "schema")
	extractCmd.MarkFlagsMutuallyExclusive("extractor", "instructions")

	suggestCmd.Flags().StringVar(&suggestDraft, "draft", "", "existing schema file to revise")
}
