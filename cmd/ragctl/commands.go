package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/immigration-rag/backend/internal/query"
	"github.com/immigration-rag/backend/internal/rag"
)

var (
	ingestURL   string
	ingestTitle string

	searchLimit   int
	searchFilters []string
	searchJSON    bool

	validateCountry string

	clearYes bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Enrich and index documents",
	Long: `Reads each file (markdown, text or HTML), enriches it and stores the
records. --url and --title apply when a single file is given; otherwise the
file name is the title.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed records",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var insightsCmd = &cobra.Command{
	Use:   "insights [entity]",
	Short: "Summarise what the index knows about a form, visa or country",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := service.GetEntityInsights(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, in)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [entity...]",
	Short: "Check whether entities can be pursued together",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := service.ValidateUserPath(cmd.Context(), args, validateCountry)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collection and backend status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := service.Status(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Remove a document from the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.DeleteDocument(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop and recreate the collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !clearYes {
			return errors.New("refusing to clear without --yes")
		}
		if err := service.ClearCollection(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Collection cleared")
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "source URL of the document")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	searchCmd.Flags().StringArrayVarP(&searchFilters, "filter", "f", nil, "filter as key=value; lists are comma separated")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")

	validateCmd.Flags().StringVar(&validateCountry, "country", "", "country the path is pursued in")

	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm clearing the collection")

	rootCmd.AddCommand(ingestCmd, searchCmd, insightsCmd, validateCmd, statusCmd, deleteCmd, clearCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	docs := make([]rag.DocumentInput, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc := rag.DocumentInput{
			Title:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Content: string(data),
		}
		if len(args) == 1 {
			doc.SourceURL = ingestURL
			if ingestTitle != "" {
				doc.Title = ingestTitle
			}
		}
		docs = append(docs, doc)
	}

	report := service.IngestBatch(cmd.Context(), docs)
	for _, d := range report.Documents {
		if d.Error != "" {
			cmd.Printf("  FAILED  %s: %s\n", d.Title, d.Error)
			continue
		}
		cmd.Printf("  OK      %s (%s) stored %d/%d chunks, %d relationships\n",
			d.Title, d.DocumentID, d.Stored, d.ChunksTotal, d.Relationships)
	}
	cmd.Printf("%d succeeded, %d failed in %dms\n", report.Succeeded, report.Failed, report.DurationMS)

	if report.Succeeded == 0 {
		return errors.New("no document was ingested")
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	filters, err := parseFilterFlags(searchFilters)
	if err != nil {
		return err
	}

	results, err := service.SemanticSearchEnhanced(cmd.Context(), args[0], searchLimit, filters)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return printJSON(cmd, results)
	}
	printResults(cmd, results)
	return nil
}

func printResults(cmd *cobra.Command, results []query.Result) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}

	for i, r := range results {
		rec := r.Record
		heading := rec.DocumentTitle
		if rec.SectionTitle != "" {
			heading += " > " + rec.SectionTitle
		}
		cmd.Printf("  [%d] %s (%.2f, freshness %.2f)\n", i+1, heading, r.Score, rec.FreshnessScore)
		if rec.SourceURL != "" {
			cmd.Printf("      Source: %s\n", rec.SourceURL)
		}
		if len(rec.FormNumbers) > 0 {
			cmd.Printf("      Forms: %s\n", strings.Join(rec.FormNumbers, ", "))
		}
		cmd.Printf("      %s\n\n", preview(rec.Content, 160))
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// parseFilterFlags turns key=value flags into the untyped filter map the
// search accepts. Unknown keys pass through and are rejected by the search.
func parseFilterFlags(flags []string) (map[string]any, error) {
	if len(flags) == 0 {
		return nil, nil
	}

	out := make(map[string]any, len(flags))
	for _, f := range flags {
		key, value, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: want key=value", f)
		}

		switch key {
		case "form_numbers", "visa_types", "requirements", "countries":
			var values []any
			for _, v := range strings.Split(value, ",") {
				if v = strings.TrimSpace(v); v != "" {
					values = append(values, v)
				}
			}
			out[key] = values
		case "is_current", "current_only":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("invalid filter %q: %w", f, err)
			}
			out[key] = b
		case "min_freshness":
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid filter %q: %w", f, err)
			}
			out[key] = n
		default:
			out[key] = value
		}
	}
	return out, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
