// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the relational source of truth for retrievable rows and
// crawled document chunks.
//
// Every catalogued table carries an embedding column of the fixed width
// (vector(768) on PostgreSQL, text elsewhere). Embeddings are encoded with
// the pgvector codec on every dialect so the same scan path works
// everywhere.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/conclave/pkg/config"
)

// Store wraps a database handle with the catalog operations.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open gets a pooled handle for cfg and bootstraps the schema.
func Open(ctx context.Context, pool *config.DBPool, cfg *config.DatabaseConfig) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	db, err := pool.Get(ctx, cfg)
	if err != nil {
		return nil, NewDatabaseError("open", "failed to connect", err)
	}
	return New(ctx, db, cfg.Dialect())
}

// New wraps an open handle. dialect is "postgres", "mysql" or "sqlite".
func New(ctx context.Context, db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{db: db, dialect: dialect}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.initSchema(initCtx); err != nil {
		return nil, err
	}

	slog.Debug("Store ready", "dialect", dialect)
	return s, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() string {
	return s.dialect
}

// Rebind rewrites ? placeholders as $n for PostgreSQL. Quoted literals are
// left untouched.
func (s *Store) Rebind(query string) string {
	if s.dialect != "postgres" || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn inside a transaction, rolling back when fn fails.
func (s *Store) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewDatabaseError(operation, "failed to begin transaction", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("Rollback failed", "operation", operation, "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewDatabaseError(operation, "failed to commit transaction", err)
	}
	return nil
}
