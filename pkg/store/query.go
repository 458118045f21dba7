package store

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"
)

// MaxQueryRows caps the rows returned by Query.
const MaxQueryRows = 200

var writeStatement = regexp.MustCompile(`(?i)\b(insert|update|delete|replace|merge|upsert|create|drop|alter|truncate|grant|revoke)\b`)

var (
	updateStatement = regexp.MustCompile(`(?is)^(\s*update\s+)([A-Za-z_][A-Za-z0-9_]*)(\s+set\s+)`)
	rowStatement    = regexp.MustCompile(`(?is)^\s*(?:insert\s+(?:or\s+\w+\s+)?into|replace\s+into|delete\s+from|update)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	embeddingColumn = regexp.MustCompile(`(?i)\bembedding\b`)
)

// WriteTarget returns the catalogued table a single-table INSERT, UPDATE,
// REPLACE or DELETE statement modifies.
func WriteTarget(statement string) (Table, bool) {
	m := rowStatement.FindStringSubmatch(statement)
	if m == nil {
		return Table{}, false
	}
	t, err := LookupTable(m[1])
	return t, err == nil
}

// invalidateEmbeddings rewrites an UPDATE of a catalogued table so the
// changed rows also lose their embedding. Statements that assign the
// embedding themselves are left alone.
func invalidateEmbeddings(statement string) string {
	m := updateStatement.FindStringSubmatchIndex(statement)
	if m == nil || embeddingColumn.MatchString(statement) {
		return statement
	}
	if _, err := LookupTable(statement[m[4]:m[5]]); err != nil {
		return statement
	}
	return statement[:m[1]] + "embedding = NULL, " + statement[m[1]:]
}

// IsWrite reports whether statement modifies data or schema. CTEs count as
// writes when their body contains a modifying keyword.
func IsWrite(statement string) bool {
	trimmed := strings.TrimSpace(statement)
	first := strings.ToLower(strings.SplitN(trimmed, " ", 2)[0])
	switch first {
	case "select", "show", "explain", "describe", "pragma", "values":
		return false
	case "with":
		return writeStatement.MatchString(trimmed)
	}
	return true
}

// Query runs a read statement and returns the rows as column maps.
// Embedding columns are omitted from the output.
func (s *Store) Query(ctx context.Context, statement string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, s.Rebind(statement), args...)
	if err != nil {
		return nil, NewDatabaseError("query", "query failed", err)
	}
	defer rows.Close()

	out, err := scanMaps(rows, MaxQueryRows)
	if err != nil {
		return nil, NewDatabaseError("query", "failed to read rows", err)
	}
	return out, nil
}

// Exec runs a write statement in its own transaction and returns the number
// of affected rows. Any failure rolls the transaction back. An UPDATE of a
// catalogued table clears the embedding of every row it touches, so a later
// Reembed pass derives it from the new text.
func (s *Store) Exec(ctx context.Context, statement string, args ...any) (int64, error) {
	var affected int64
	statement = invalidateEmbeddings(statement)
	err := s.withTx(ctx, "exec", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.Rebind(statement), args...)
		if err != nil {
			return NewDatabaseError("exec", "statement failed", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected = n
		}
		return nil
	})
	return affected, err
}

func scanMaps(rows *sql.Rows, limit int) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if strings.EqualFold(col, "embedding") {
				continue
			}
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
