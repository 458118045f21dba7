package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// Embedder produces the document vector for a row's text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Row is a catalogued row together with its embedding.
type Row struct {
	Table     string
	Key       string
	Text      string
	Fields    map[string]any
	Embedding []float32
}

// ListEmbedded returns every row of table whose embedding is present.
func (s *Store) ListEmbedded(ctx context.Context, table string) ([]Row, error) {
	t, err := LookupTable(table)
	if err != nil {
		return nil, NewDatabaseError("list_embedded", "invalid table", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE embedding IS NOT NULL`, t.Name))
	if err != nil {
		return nil, NewDatabaseError("list_embedded", "query failed", err)
	}
	defer rows.Close()

	out, err := scanRows(rows, t)
	if err != nil {
		return nil, NewDatabaseError("list_embedded", "failed to read rows", err)
	}
	return out, nil
}

func scanRows(rows *sql.Rows, t Table) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		var emb *pgvector.Vector
		for i, col := range columns {
			if strings.EqualFold(col, "embedding") {
				valuePtrs[i] = &emb
				continue
			}
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		fields := make(map[string]any, len(columns))
		for i, col := range columns {
			if strings.EqualFold(col, "embedding") {
				continue
			}
			fields[col] = normalizeValue(values[i])
		}

		out = append(out, Row{
			Table:     t.Name,
			Key:       fmt.Sprint(fields[t.Key]),
			Text:      t.Text(fields),
			Fields:    fields,
			Embedding: decodeEmbedding(emb),
		})
	}
	return out, rows.Err()
}

// ReembedOptions controls a Reembed pass.
type ReembedOptions struct {
	// All refreshes every row instead of only rows missing an embedding.
	All bool
	// OnEmbedded is called after each row is updated, e.g. to mirror it into
	// a vector index. Its error is logged and does not stop the pass.
	OnEmbedded func(ctx context.Context, row Row) error
}

// ReembedStats summarizes a Reembed pass.
type ReembedStats struct {
	Table   string `json:"table"`
	Updated int    `json:"updated"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// Reembed regenerates embeddings from the current text of table's rows.
// Rows whose embedding fails keep a NULL embedding; each update commits on
// its own.
func (s *Store) Reembed(ctx context.Context, table string, embedder Embedder, opts ReembedOptions) (ReembedStats, error) {
	stats := ReembedStats{Table: table}

	t, err := LookupTable(table)
	if err != nil {
		return stats, NewDatabaseError("reembed", "invalid table", err)
	}
	stats.Table = t.Name

	query := fmt.Sprintf(`SELECT * FROM %s`, t.Name)
	if !opts.All {
		query += ` WHERE embedding IS NULL`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return stats, NewDatabaseError("reembed", "query failed", err)
	}
	pending, err := scanRows(rows, t)
	rows.Close()
	if err != nil {
		return stats, NewDatabaseError("reembed", "failed to read rows", err)
	}

	update := s.Rebind(fmt.Sprintf(`UPDATE %s SET embedding = ? WHERE %s = ?`, t.Name, t.Key))

	for _, row := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if row.Text == "" {
			stats.Skipped++
			continue
		}

		vec, err := embedder.Embed(ctx, row.Text)
		if err == nil {
			err = checkWidth(vec)
		}
		if err != nil {
			slog.Warn("Embedding failed, keeping NULL", "table", t.Name, "key", row.Key, "error", err)
			stats.Failed++
			continue
		}

		if _, err := s.db.ExecContext(ctx, update, encodeEmbedding(vec), row.Fields[t.Key]); err != nil {
			return stats, NewDatabaseError("reembed", fmt.Sprintf("failed to update %s %s", t.Name, row.Key), err)
		}
		stats.Updated++

		if opts.OnEmbedded != nil {
			row.Embedding = vec
			if err := opts.OnEmbedded(ctx, row); err != nil {
				slog.Warn("Post-embed hook failed", "table", t.Name, "key", row.Key, "error", err)
			}
		}
	}

	slog.Info("Reembed complete", "table", t.Name, "updated", stats.Updated, "failed", stats.Failed, "skipped", stats.Skipped)
	return stats, nil
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InsertRow inserts fields into a catalogued table with an optional
// embedding and returns the new key.
func (s *Store) InsertRow(ctx context.Context, table string, fields map[string]any, embedding []float32) (int64, error) {
	t, err := LookupTable(table)
	if err != nil {
		return 0, NewDatabaseError("insert_row", "invalid table", err)
	}
	if err := checkWidth(embedding); err != nil {
		return 0, NewDatabaseError("insert_row", "invalid embedding", err)
	}

	cols := make([]string, 0, len(fields)+1)
	for col := range fields {
		if !identifier.MatchString(col) || strings.EqualFold(col, "embedding") {
			return 0, NewDatabaseError("insert_row", fmt.Sprintf("invalid column %q", col), nil)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		args = append(args, fields[col])
	}
	cols = append(cols, "embedding")
	args = append(args, encodeEmbedding(embedding))

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, t.Name, strings.Join(cols, ", "), placeholders)

	var id int64
	err = s.withTx(ctx, "insert_row", func(tx *sql.Tx) error {
		if s.dialect == "postgres" {
			if err := tx.QueryRowContext(ctx, s.Rebind(insert+" RETURNING "+t.Key), args...).Scan(&id); err != nil {
				return NewDatabaseError("insert_row", "insert failed", err)
			}
			return nil
		}
		res, err := tx.ExecContext(ctx, insert, args...)
		if err != nil {
			return NewDatabaseError("insert_row", "insert failed", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}
