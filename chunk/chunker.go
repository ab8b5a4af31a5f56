// Package chunk splits normalized document text into overlapping fixed-size
// windows suitable for embedding, rewriting known-obsolete API idioms along
// the way.
package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/document"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/textutil"
)

// Config controls the sliding window geometry
type Config struct {
	ChunkSize         int // window width in characters
	ChunkOverlap      int // characters shared between adjacent windows
	MaxTokensPerChunk int // hard token ceiling per chunk
}

// DefaultConfig returns the standard window geometry
func DefaultConfig() Config {
	return Config{
		ChunkSize:         600,
		ChunkOverlap:      100,
		MaxTokensPerChunk: 500,
	}
}

// boundarySlack is how far past the nominal window edge we look for a space
// to snap the chunk boundary to.
const boundarySlack = 100

// noisePatterns matches OS/runtime/version boilerplate lines that carry no
// semantic content worth embedding.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\s*(os|platform|system)\s*[:=].*$`),
	regexp.MustCompile(`(?im)^\s*(python|node|go|ruby)\s+version\s*[:=].*$`),
	regexp.MustCompile(`(?im)^\s*version\s*[:=]\s*[\d.]+.*$`),
	regexp.MustCompile(`(?im)^\s*runtime\s*[:=].*$`),
	regexp.MustCompile(`(?im)^\s*\$\s*(pip|npm|brew|apt(-get)?)\s+install\b.*$`),
}

var whitespaceRuns = regexp.MustCompile(`[ \t]+`)
var blankLineRuns = regexp.MustCompile(`\n{3,}`)

// Chunker normalizes document text and slices it into overlapping windows.
type Chunker struct {
	cfg    Config
	mapper *ModelMapper
	log    *zap.SugaredLogger
}

// NewChunker creates a chunker. A nil logger is replaced with a no-op.
func NewChunker(cfg Config, log *zap.SugaredLogger) *Chunker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.ChunkSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Chunker{
		cfg:    cfg,
		mapper: NewModelMapper(),
		log:    log,
	}
}

// ChunkDocuments normalizes each document and splits it into overlapping
// windows. Each chunk inherits its parent's metadata plus a chunkIndex, and
// gets a collision-safe id of the form {docID}_chunk_{n}.
func (c *Chunker) ChunkDocuments(docs []document.Document) []document.Document {
	var out []document.Document
	for _, doc := range docs {
		chunks := c.ChunkDocument(doc)
		out = append(out, chunks...)
	}
	return out
}

// ChunkDocument normalizes and windows a single document.
func (c *Chunker) ChunkDocument(doc document.Document) []document.Document {
	text, extraMeta := c.normalize(doc.Content)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	windows := c.window(text)

	chunks := make([]document.Document, 0, len(windows))
	for i, w := range windows {
		meta := doc.CloneMetadata()
		for k, v := range extraMeta {
			meta[k] = v
		}
		meta[document.MetaChunkIndex] = i

		chunks = append(chunks, document.Document{
			ID:       textutil.EnsureSafeID(fmt.Sprintf("%s_chunk_%d", doc.ID, i)),
			Content:  w,
			Metadata: meta,
		})
	}

	c.log.Debugw("Chunked document",
		logger.FieldItemID, doc.ID,
		logger.FieldCount, len(chunks),
	)
	return chunks
}

// normalize flattens notebook content or strips noise from plain text, then
// collapses whitespace and rewrites obsolete API idioms.
func (c *Chunker) normalize(content string) (string, map[string]any) {
	extraMeta := map[string]any{}

	text, language, cellCounts, isNotebook := parseNotebook(content)
	if isNotebook {
		if language != "" {
			extraMeta[document.MetaLanguage] = language
		}
		extraMeta[document.MetaCellCounts] = cellCounts
	} else {
		text = content
		for _, pat := range noisePatterns {
			text = pat.ReplaceAllString(text, "")
		}
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = whitespaceRuns.ReplaceAllString(text, " ")
	text = blankLineRuns.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	text = c.mapper.RewriteAPICalls(text)
	return text, extraMeta
}

// window slides a fixed-size window across text with overlap, snapping each
// right edge to the next space within boundarySlack characters when one
// exists, and capping every chunk at the token ceiling.
func (c *Chunker) window(text string) []string {
	if len(text) <= c.cfg.ChunkSize {
		return []string{textutil.TruncateText(text, c.cfg.MaxTokensPerChunk)}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.cfg.ChunkSize
		if end >= len(text) {
			end = len(text)
		} else if idx := strings.IndexByte(text[end:min(end+boundarySlack, len(text))], ' '); idx >= 0 {
			end += idx
		}

		chunk := textutil.TruncateText(text[start:end], c.cfg.MaxTokensPerChunk)
		chunks = append(chunks, chunk)

		if end >= len(text) {
			break
		}

		next := end - c.cfg.ChunkOverlap
		if next <= start {
			next = start + 1 // always make forward progress
		}
		start = next
	}
	return chunks
}
