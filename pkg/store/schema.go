package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/conclave/pkg/config"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS institutions (
    inst_id %ID%,
    name TEXT NOT NULL,
    type TEXT,
    department TEXT,
    address TEXT,
    city TEXT,
    state TEXT,
    zip TEXT,
    embedding %VECTOR%
);

CREATE TABLE IF NOT EXISTS positions (
    position_id %ID%,
    inst_id INTEGER REFERENCES institutions(inst_id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    responsibilities TEXT,
    start_date DATE,
    end_date DATE,
    embedding %VECTOR%
);

CREATE TABLE IF NOT EXISTS experiences (
    experience_id %ID%,
    position_id INTEGER REFERENCES positions(position_id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT,
    start_date DATE,
    end_date DATE,
    hyperlink TEXT,
    embedding %VECTOR%
);

CREATE TABLE IF NOT EXISTS skills (
    skill_id %ID%,
    experience_id INTEGER REFERENCES experiences(experience_id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    type TEXT,
    level TEXT,
    embedding %VECTOR%
);

CREATE TABLE IF NOT EXISTS documents (
    document_id %ID%,
    url VARCHAR(1024) NOT NULL,
    title TEXT,
    chunk_text TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    embedding %VECTOR%,
    created_at TIMESTAMP NOT NULL
);
`

const documentsIndexSQL = `CREATE INDEX IF NOT EXISTS idx_documents_url ON documents(url)`

func schemaStatements(dialect string) []string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	vec := "TEXT"
	switch dialect {
	case "postgres":
		id = "SERIAL PRIMARY KEY"
		vec = fmt.Sprintf("vector(%d)", config.EmbeddingDimension)
	case "mysql":
		id = "INTEGER PRIMARY KEY AUTO_INCREMENT"
	}

	ddl := strings.NewReplacer("%ID%", id, "%VECTOR%", vec).Replace(schemaSQL)

	var stmts []string
	if dialect == "postgres" {
		stmts = append(stmts, "CREATE EXTENSION IF NOT EXISTS vector")
	}
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if dialect != "mysql" {
		stmts = append(stmts, documentsIndexSQL)
	}
	return stmts
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return NewDatabaseError("init_schema", "failed to bootstrap schema", err)
		}
	}
	return nil
}
