// Package document defines the normalized document shapes that flow through
// the chunking, embedding and storage pipeline.
package document

// Metadata keys written by the pipeline. Chunk provenance keys let a search
// hit be traced back to its parent document.
const (
	MetaChunkIndex  = "chunkIndex"
	MetaIsChunk     = "isChunk"
	MetaOriginalDoc = "originalDocumentId"
	MetaSourceType  = "sourceType"
	MetaLanguage    = "language"
	MetaCellCounts  = "cellCounts"
	MetaTitle       = "title"
	MetaURL         = "url"
)

// Document is one normalized unit of content headed for embedding.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CloneMetadata returns a shallow copy of the document's metadata, never nil.
func (d Document) CloneMetadata() map[string]any {
	meta := make(map[string]any, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	return meta
}

// Embedded is a document paired with its vector embedding.
type Embedded struct {
	Document
	Embedding []float32 `json:"embedding"`
}

// SearchResult is one hit from the vector index.
type SearchResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
