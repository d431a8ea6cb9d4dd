package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/knowledge-engine/chunkstore/internal/app"
	"github.com/knowledge-engine/chunkstore/internal/chunk"
	"github.com/knowledge-engine/chunkstore/internal/config"
	"github.com/knowledge-engine/chunkstore/internal/ingest"
	"github.com/knowledge-engine/chunkstore/internal/search"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:          "chunkctl",
		Short:        "Manage and query the chunk store",
		Long:         "Load schema, business logic and Q&A chunks into the chunk store, search them, and serve the retrieval API.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.GetStringEnv("CHUNKSTORE_ENV_FILE", ".env"), "Optional .env file with configuration")

	open := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := config.LoadWithEnvFile(envFile)
		if err != nil {
			return nil, err
		}
		logger := app.NewLogger(cfg.Log, "chunkctl")
		logger.Logger.SetOutput(cmd.ErrOrStderr())
		return app.New(cfg, logger)
	}

	rootCmd.AddCommand(createAddCommand(open))
	rootCmd.AddCommand(createImportHTMLCommand(open))
	rootCmd.AddCommand(createSearchCommand(open))
	rootCmd.AddCommand(createAskCommand(open))
	rootCmd.AddCommand(createStatsCommand(open))
	rootCmd.AddCommand(createServeCommand(open))

	return rootCmd
}

type opener func(cmd *cobra.Command) (*app.App, error)

func createAddCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file.json|file.jsonl>...",
		Short: "Add chunk records from JSON or JSONL files",
		Long:  "Read chunk records (native chunks, table descriptions, metric definitions or Q&A pairs) and add them to the store in one batch.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var chunks []chunk.Chunk
			for _, path := range args {
				read, err := readChunkFile(path)
				if err != nil {
					return err
				}
				chunks = append(chunks, read...)
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Engine.Ingest(cmd.Context(), chunks); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d chunks (%d total)\n", len(chunks), a.Store.Len())
			return nil
		},
	}
}

func readChunkFile(path string) ([]chunk.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	chunks, err := ingest.ReadChunks(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return chunks, nil
}

func createImportHTMLCommand(open opener) *cobra.Command {
	var sourceType string
	var sourceID string

	cmd := &cobra.Command{
		Use:   "import-html <file|url>...",
		Short: "Chunk HTML documentation pages and add them to the store",
		Long:  "Split HTML pages (data dictionaries, metric wikis) into one chunk per text block. URLs are fetched politely and respect robots.txt.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceID != "" && len(args) > 1 {
				return fmt.Errorf("--source-id can only be used with a single page")
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			chunker := ingest.NewHTMLChunker()
			var chunks []chunk.Chunk
			for _, target := range args {
				id := sourceID
				if id == "" {
					id = target
				}

				var pageChunks []chunk.Chunk
				if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
					result, err := a.Fetcher.Fetch(cmd.Context(), target)
					if err != nil {
						return fmt.Errorf("failed to fetch %s: %w", target, err)
					}
					pageChunks = chunker.FromPage(result.Page, chunk.SourceType(sourceType), id)
				} else {
					pageChunks, err = chunkHTMLFile(chunker, target, chunk.SourceType(sourceType), id)
					if err != nil {
						return err
					}
				}
				a.Logger.WithFields(logrus.Fields{"page": target, "chunks": len(pageChunks)}).Debug("Chunked page")
				chunks = append(chunks, pageChunks...)
			}

			if err := a.Engine.Ingest(cmd.Context(), chunks); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d chunks from %d pages\n", len(chunks), len(args))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sourceType, "source-type", "t", string(chunk.SourceDBSchema), "Source type of the imported chunks")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "Source id (defaults to the file path or URL)")

	return cmd
}

func chunkHTMLFile(chunker *ingest.HTMLChunker, path string, sourceType chunk.SourceType, sourceID string) ([]chunk.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return chunker.Chunk(f, sourceType, sourceID)
}

func createSearchCommand(open opener) *cobra.Command {
	var topK int
	var sourceTypes []string
	var minScore float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank stored chunks by similarity to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := search.SearchOptions{TopK: topK, MinScore: minScore}
			for _, st := range sourceTypes {
				opts.SourceTypes = append(opts.SourceTypes, chunk.SourceType(st))
			}

			hits := a.Engine.Retrieve(strings.Join(args, " "), opts)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching chunks")
				return nil
			}
			for i, hit := range hits {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.4f] %s (%s:%s)\n   %s\n",
					i+1, hit.Score, hit.Chunk.ID, hit.Chunk.SourceType, hit.Chunk.SourceID, hit.Chunk.ChunkText)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (0 = store default)")
	cmd.Flags().StringSliceVarP(&sourceTypes, "source-type", "t", nil, "Only return these source types")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop results scoring below this")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}

func createAskCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question with the configured LLM using retrieved chunks as context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			answer, err := a.Engine.GenerateAnswer(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer.Text)
			for _, src := range answer.Sources {
				fmt.Fprintf(cmd.OutOrStdout(), "  source: %s (%s:%s) %.4f\n", src.Chunk.ID, src.Chunk.SourceType, src.Chunk.SourceID, src.Score)
			}
			return nil
		},
	}
}

func createStatsCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show chunk counts and vocabulary size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return writeJSON(cmd.OutOrStdout(), a.Store.Stats())
		},
	}
}

func createServeCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the retrieval API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
