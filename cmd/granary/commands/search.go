package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/granary/document"
	"github.com/corvid-labs/granary/errors"
)

// SearchCmd searches the vector index.
var SearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the vector index",
	Long: `Embed the query and return the most similar stored documents.

Examples:
  granary search "connection timeout on retry"
  granary search --limit 5 --threshold 0.5 "rate limit errors"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		threshold, _ := cmd.Flags().GetFloat32("threshold")
		query := strings.Join(args, " ")

		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		ctx := context.Background()

		// The query goes through the same provider and batcher as stored
		// documents so the vectors are comparable.
		embedded, err := rt.batcher.BatchProcess(ctx, []document.Document{{
			ID:      "query",
			Content: query,
		}})
		if err != nil {
			return errors.Wrap(err, "failed to embed query")
		}
		if len(embedded) == 0 {
			return errors.New("query produced no embedding")
		}

		results, err := rt.vectors.Search(ctx, embedded[0].Embedding, limit, threshold)
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results")
			return nil
		}

		for i, r := range results {
			fmt.Printf("%d. %s (similarity %.3f)\n", i+1, r.ID, r.Score)
			if title, ok := r.Metadata[document.MetaTitle].(string); ok && title != "" {
				fmt.Printf("   %s\n", title)
			}
			if url, ok := r.Metadata[document.MetaURL].(string); ok && url != "" {
				fmt.Printf("   %s\n", url)
			}
			fmt.Printf("   %s\n\n", snippet(r.Content, 200))
		}
		return nil
	},
}

func init() {
	SearchCmd.Flags().Int("limit", 10, "Maximum number of results")
	SearchCmd.Flags().Float32("threshold", 0, "Minimum similarity (0 to 1)")
}

func snippet(content string, max int) string {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}
