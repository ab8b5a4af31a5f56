package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/granary/document"
	"github.com/corvid-labs/granary/textutil"
)

func TestChunkShortDocument(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	doc := document.Document{
		ID:       "issue_42",
		Content:  "A short description of the bug and its fix.",
		Metadata: map[string]any{document.MetaSourceType: "github_issue"},
	}

	chunks := c.ChunkDocument(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, "issue_42_chunk_0", chunks[0].ID)
	assert.Equal(t, 0, chunks[0].Metadata[document.MetaChunkIndex])
	assert.Equal(t, "github_issue", chunks[0].Metadata[document.MetaSourceType])
}

func TestChunkLongDocumentOverlaps(t *testing.T) {
	cfg := DefaultConfig()
	c := NewChunker(cfg, nil)

	words := make([]string, 0, 600)
	for i := 0; i < 600; i++ {
		words = append(words, fmt.Sprintf("word%03d", i))
	}
	doc := document.Document{ID: "doc1", Content: strings.Join(words, " ")}

	chunks := c.ChunkDocument(doc)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Metadata[document.MetaChunkIndex])
		assert.Equal(t, fmt.Sprintf("doc1_chunk_%d", i), ch.ID)
		assert.LessOrEqual(t, textutil.EstimateTokens(ch.Content), cfg.MaxTokensPerChunk)
	}

	// Adjacent windows share text: the tail of one chunk reappears at the
	// head of the next
	tail := chunks[0].Content[len(chunks[0].Content)-40:]
	assert.Contains(t, chunks[1].Content, tail)
}

func TestChunkForwardProgressOnSpacelessText(t *testing.T) {
	c := NewChunker(Config{ChunkSize: 100, ChunkOverlap: 90, MaxTokensPerChunk: 500}, nil)

	doc := document.Document{ID: "blob", Content: strings.Repeat("x", 1000)}
	chunks := c.ChunkDocument(doc)

	require.NotEmpty(t, chunks)
	assert.Less(t, len(chunks), 1000, "must not loop one byte at a time from position zero")
}

func TestChunkLongIDsStaySafe(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	doc := document.Document{
		ID:      strings.Repeat("very-long-path-segment/", 10),
		Content: "content body",
	}
	chunks := c.ChunkDocument(doc)
	require.Len(t, chunks, 1)
	assert.LessOrEqual(t, len(chunks[0].ID), textutil.MaxIDLength)
}

func TestChunkEmptyContent(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)
	assert.Empty(t, c.ChunkDocument(document.Document{ID: "empty", Content: "   \n\n  "}))
}

func TestNoiseLinesStripped(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	content := "The fix is to upgrade the client library.\n" +
		"OS: Ubuntu 22.04\n" +
		"Python version: 3.11.2\n" +
		"$ pip install openai\n" +
		"After upgrading everything works."

	chunks := c.ChunkDocument(document.Document{ID: "d", Content: content})
	require.Len(t, chunks, 1)
	assert.NotContains(t, chunks[0].Content, "Ubuntu")
	assert.NotContains(t, chunks[0].Content, "pip install")
	assert.Contains(t, chunks[0].Content, "upgrade the client library")
	assert.Contains(t, chunks[0].Content, "everything works")
}

func TestNotebookContentFlattened(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	nb := `{
		"cells": [
			{"cell_type": "markdown", "source": ["# Embedding demo\n"]},
			{"cell_type": "code", "source": ["import numpy as np\n", "print(np.dot(a, b))\n"]},
			{"cell_type": "code", "source": "x = 1"}
		],
		"metadata": {"kernelspec": {"language": "python", "name": "python3"}}
	}`

	chunks := c.ChunkDocument(document.Document{ID: "nb1", Content: nb})
	require.Len(t, chunks, 1)

	assert.Contains(t, chunks[0].Content, "[markdown cell 1]")
	assert.Contains(t, chunks[0].Content, "[code cell 1]")
	assert.Contains(t, chunks[0].Content, "np.dot(a, b)")
	assert.Equal(t, "python", chunks[0].Metadata[document.MetaLanguage])

	counts, ok := chunks[0].Metadata[document.MetaCellCounts].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 2, counts["code"])
	assert.Equal(t, 1, counts["markdown"])
}

func TestNonNotebookJSONTreatedAsText(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	chunks := c.ChunkDocument(document.Document{ID: "j", Content: `{"key": "value"}`})
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, `"key"`)
}

func TestWhitespaceNormalization(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	content := "line one\r\nline    two\t\twith\ttabs\n\n\n\n\nline three"
	chunks := c.ChunkDocument(document.Document{ID: "w", Content: content})
	require.Len(t, chunks, 1)

	assert.NotContains(t, chunks[0].Content, "\r")
	assert.Contains(t, chunks[0].Content, "line two with tabs")
	assert.NotContains(t, chunks[0].Content, "\n\n\n")
}

func TestRewriteLegacyCompletionCall(t *testing.T) {
	m := NewModelMapper()

	in := `response = openai.Completion.create(engine="text-davinci-003", prompt="hi")
print(response.choices[0].text)`
	out := m.RewriteAPICalls(in)

	assert.Contains(t, out, "client.chat.completions.create")
	assert.NotContains(t, out, "openai.Completion.create")
	assert.Contains(t, out, `model="gpt-4o-mini"`)
	assert.NotContains(t, out, "engine=")
	assert.Contains(t, out, ".choices[0].message.content")
	assert.NotContains(t, out, ".choices[0].text")
}

func TestRewriteKeepsModernModelParam(t *testing.T) {
	m := NewModelMapper()

	in := `client.chat.completions.create(model="gpt-4o", messages=msgs)`
	assert.Equal(t, in, m.RewriteAPICalls(in))
}

func TestMapModelContextOverrides(t *testing.T) {
	m := NewModelMapper()

	t.Run("reasoning context wins", func(t *testing.T) {
		got := m.MapModel("text-davinci-003", "solve this step-by-step logic puzzle")
		assert.Equal(t, reasoningModel, got)
	})

	t.Run("embedding context wins", func(t *testing.T) {
		got := m.MapModel("davinci", "compute the embedding vector for similarity search")
		assert.Equal(t, embeddingModel, got)
	})

	t.Run("table entry for neutral context", func(t *testing.T) {
		got := m.MapModel("text-embedding-ada-002", "just some prose")
		assert.Equal(t, embeddingModel, got)
	})

	t.Run("unknown legacy model uses classifier default", func(t *testing.T) {
		got := m.MapModel("totally-unknown-model", "plain chat about cooking")
		assert.Equal(t, defaultChat, got)
	})
}
