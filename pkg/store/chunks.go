package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kadirpekel/conclave/pkg/config"
)

// DocumentChunk is one persisted slice of a crawled page.
type DocumentChunk struct {
	DocumentID int64     `json:"document_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"chunk_text"`
	Index      int       `json:"chunk_index"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkInput is a chunk to persist. Embedding may be nil.
type ChunkInput struct {
	Text      string
	Embedding []float32
}

// ReplaceChunks deletes every chunk stored for url and inserts chunks with
// contiguous indexes starting at zero, all in one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, url, title string, chunks []ChunkInput) ([]DocumentChunk, error) {
	if strings.TrimSpace(url) == "" {
		return nil, NewDatabaseError("replace_chunks", "url is required", nil)
	}
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			return nil, NewDatabaseError("replace_chunks", fmt.Sprintf("chunk %d is empty", i), nil)
		}
		if err := checkWidth(c.Embedding); err != nil {
			return nil, NewDatabaseError("replace_chunks", fmt.Sprintf("chunk %d", i), err)
		}
	}

	now := time.Now().UTC()
	stored := make([]DocumentChunk, 0, len(chunks))

	err := s.withTx(ctx, "replace_chunks", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.Rebind(`DELETE FROM documents WHERE url = ?`), url); err != nil {
			return NewDatabaseError("replace_chunks", "failed to delete previous chunks", err)
		}

		for i, c := range chunks {
			id, err := s.insertChunk(ctx, tx, url, title, c, i, now)
			if err != nil {
				return NewDatabaseError("replace_chunks", fmt.Sprintf("failed to insert chunk %d", i), err)
			}
			stored = append(stored, DocumentChunk{
				DocumentID: id,
				URL:        url,
				Title:      title,
				Text:       c.Text,
				Index:      i,
				Embedding:  c.Embedding,
				CreatedAt:  now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) insertChunk(ctx context.Context, tx *sql.Tx, url, title string, c ChunkInput, index int, now time.Time) (int64, error) {
	const insert = `INSERT INTO documents (url, title, chunk_text, chunk_index, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	args := []any{url, title, c.Text, index, encodeEmbedding(c.Embedding), now}

	if s.dialect == "postgres" {
		var id int64
		err := tx.QueryRowContext(ctx, s.Rebind(insert+` RETURNING document_id`), args...).Scan(&id)
		return id, err
	}

	res, err := tx.ExecContext(ctx, insert, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Chunks returns the chunks stored for url in index order.
func (s *Store) Chunks(ctx context.Context, url string) ([]DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, s.Rebind(
		`SELECT document_id, url, title, chunk_text, chunk_index, embedding, created_at
		 FROM documents WHERE url = ? ORDER BY chunk_index`), url)
	if err != nil {
		return nil, NewDatabaseError("chunks", "query failed", err)
	}
	defer rows.Close()

	var out []DocumentChunk
	for rows.Next() {
		var (
			c     DocumentChunk
			title sql.NullString
			emb   *pgvector.Vector
		)
		if err := rows.Scan(&c.DocumentID, &c.URL, &title, &c.Text, &c.Index, &emb, &c.CreatedAt); err != nil {
			return nil, NewDatabaseError("chunks", "failed to scan chunk", err)
		}
		c.Title = title.String
		c.Embedding = decodeEmbedding(emb)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("chunks", "failed to read chunks", err)
	}
	return out, nil
}

func encodeEmbedding(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

func decodeEmbedding(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

func checkWidth(v []float32) error {
	if v != nil && len(v) != config.EmbeddingDimension {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(v), config.EmbeddingDimension)
	}
	return nil
}
