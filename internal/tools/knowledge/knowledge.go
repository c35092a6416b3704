// Package knowledge backs the knowledge_search tool: semantic lookup over an
// embeddings table using a pgvector cosine-distance index.
package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/wspotter/felix/pkg/types"
)

// Embedder turns a query string into the vector space the entries table was
// indexed in. Callers typically wire this to the same embedding model used
// to populate the table offline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Entry is one row returned by Search.
type Entry struct {
	ID       string
	Title    string
	Content  string
	Distance float64
}

// Index is the pgvector-backed store behind the knowledge_search tool.
//
// All methods are safe for concurrent use.
type Index struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

// NewIndex returns an Index using pool and embedder. The caller owns pool's
// lifecycle.
func NewIndex(pool *pgxpool.Pool, embedder Embedder) *Index {
	return &Index{pool: pool, embedder: embedder}
}

// Upsert indexes a pre-embedded entry, replacing any existing row with the
// same ID.
func (idx *Index) Upsert(ctx context.Context, entry Entry, embedding []float32) error {
	const q = `
		INSERT INTO knowledge_entries (id, title, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    title     = EXCLUDED.title,
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding`

	_, err := idx.pool.Exec(ctx, q, entry.ID, entry.Title, entry.Content, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("knowledge: upsert: %w", err)
	}
	return nil
}

// Search returns the topK entries whose embeddings are closest (cosine
// distance) to query's embedding, most similar first.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]Entry, error) {
	embedding, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}

	const q = `
		SELECT id, title, content, embedding <=> $1 AS distance
		FROM   knowledge_entries
		ORDER  BY distance
		LIMIT  $2`

	rows, err := idx.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		if err := row.Scan(&e.ID, &e.Title, &e.Content, &e.Distance); err != nil {
			return Entry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Tool builds the ToolSpec for knowledge_search, ready to hand to a
// tools.Registry.
func Tool(idx *Index) types.ToolSpec {
	return types.ToolSpec{
		Name:        "knowledge_search",
		Description: "Search the knowledge base for entries relevant to a query.",
		Category:    "knowledge",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for.",
				},
				"top_k": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return. Defaults to 5.",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return types.ToolOutcome{}, fmt.Errorf("knowledge_search: query must not be empty")
			}
			topK := 5
			switch v := args["top_k"].(type) {
			case float64:
				if v > 0 {
					topK = int(v)
				}
			case int:
				if v > 0 {
					topK = v
				}
			}

			entries, err := idx.Search(context.Background(), query, topK)
			if err != nil {
				return types.ToolOutcome{}, err
			}
			return types.ToolOutcome{
				Text:       formatEntries(entries),
				FlyoutType: "knowledge_results",
				Flyout:     map[string]any{"entries": entries},
			}, nil
		},
	}
}

func formatEntries(entries []Entry) string {
	if len(entries) == 0 {
		return "No matching knowledge entries found."
	}
	out := ""
	for i, e := range entries {
		if i > 0 {
			out += "\n\n"
		}
		out += fmt.Sprintf("%s: %s", e.Title, e.Content)
	}
	return out
}
