package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/document"
	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
)

// SQLiteStore implements Store on SQLite with the sqlite-vec extension.
type SQLiteStore struct {
	db    *sql.DB
	model string
	log   *zap.SugaredLogger
}

// NewSQLiteStore creates a vector store. model is recorded with each
// document so mixed-model indexes are detectable.
func NewSQLiteStore(db *sql.DB, model string, log *zap.SugaredLogger) *SQLiteStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SQLiteStore{db: db, model: model, log: log}
}

// Store upserts embedded documents. Each document lands in both the
// documents table and the vec_documents virtual table; the virtual table
// has no upsert so it is delete-then-insert.
func (s *SQLiteStore) Store(ctx context.Context, docs []document.Embedded) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin vector store tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, doc := range docs {
		blob, err := SerializeEmbedding(doc.Embedding)
		if err != nil {
			return errors.Wrapf(err, "failed to serialize embedding for %s", doc.ID)
		}

		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal metadata for %s", doc.ID)
		}
		source, _ := doc.Metadata[document.MetaSourceType].(string)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (
				id, source, content, metadata, embedding,
				model, dimensions, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				content = excluded.content,
				metadata = excluded.metadata,
				embedding = excluded.embedding,
				model = excluded.model,
				dimensions = excluded.dimensions,
				updated_at = excluded.updated_at
		`,
			doc.ID, source, doc.Content, string(metadata), blob,
			s.model, len(doc.Embedding), now, now,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to store document %s", doc.ID)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_documents WHERE document_id = ?`, doc.ID,
		); err != nil {
			return errors.Wrapf(err, "failed to clear vector row for %s", doc.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_documents (document_id, embedding) VALUES (?, ?)`,
			doc.ID, blob,
		); err != nil {
			return errors.Wrapf(err, "failed to index vector for %s", doc.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit vector store tx")
	}

	s.log.Debugw("Stored embedded documents",
		logger.FieldCount, len(docs),
	)
	return nil
}

// Search performs a KNN query over the vector index. L2 distance is mapped
// to similarity as 1 - d/2, which is exact for unit vectors.
func (s *SQLiteStore) Search(ctx context.Context, query []float32, limit int, threshold float32) ([]document.SearchResult, error) {
	blob, err := SerializeEmbedding(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize query embedding")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			v.document_id,
			d.content,
			d.metadata,
			vec_distance_L2(v.embedding, ?) AS distance
		FROM vec_documents v
		JOIN documents d ON d.id = v.document_id
		ORDER BY distance
		LIMIT ?
	`, blob, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search vectors (limit=%d)", limit)
	}
	defer rows.Close()

	var results []document.SearchResult
	for rows.Next() {
		var (
			result       document.SearchResult
			metadataJSON string
			distance     float32
		)
		if err := rows.Scan(&result.ID, &result.Content, &metadataJSON, &distance); err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}

		if err := json.Unmarshal([]byte(metadataJSON), &result.Metadata); err != nil {
			return nil, errors.Wrapf(err, "failed to decode metadata for %s", result.ID)
		}

		similarity := 1.0 - distance/2.0
		if similarity < 0 {
			similarity = 0
		}
		result.Score = float64(similarity)

		if similarity >= threshold {
			results = append(results, result)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating search results")
	}

	s.log.Debugw("Vector search completed",
		logger.FieldCount, len(results),
		"limit", limit,
	)
	return results, nil
}

// Delete removes a document from both tables. Missing IDs are not errors.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM vec_documents WHERE document_id = ?`, id,
	); err != nil {
		return errors.Wrapf(err, "failed to delete vector row for %s", id)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ?`, id,
	); err != nil {
		return errors.Wrapf(err, "failed to delete document %s", id)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents`,
	).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count documents")
	}
	return n, nil
}
