package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhiwen0/zhiwen/internal/app"
)

// ingestChunkChars is the target chunk size for indexed documents.
const ingestChunkChars = 1500

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Index documents into the knowledge base",
	Long: `Ingest reads text files, splits them into paragraph-aligned chunks,
and indexes each chunk with its embedding. The file name becomes the
chunk's source label in answer citations.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(paths []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		total := 0
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			source := filepath.Base(path)
			chunks := splitChunks(string(data), ingestChunkChars)
			for _, chunk := range chunks {
				if err := a.Index.Add(ctx, a.Gemini, chunk, source); err != nil {
					return fmt.Errorf("indexing %s: %w", source, err)
				}
			}
			total += len(chunks)
			fmt.Printf("%s: %d chunks\n", source, len(chunks))
		}

		count, err := a.Index.Count(ctx)
		if err != nil {
			return fmt.Errorf("counting chunks: %w", err)
		}
		fmt.Printf("indexed %d chunks (%d total)\n", total, count)
		return nil
	})
}

// splitChunks splits text into chunks of roughly maxChars, preferring
// paragraph boundaries. A single paragraph larger than maxChars becomes its
// own chunk rather than being split mid-sentence.
func splitChunks(text string, maxChars int) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var cur strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p)+2 > maxChars {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
