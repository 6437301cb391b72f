package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/fields"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/postgres"
)

// DocumentProvider supplies prepared index documents from the content
// store.
type DocumentProvider interface {
	Document(ctx context.Context, versionID int64) (*engine.Document, error)
	// NodeDocuments returns the documents of every version of a node.
	NodeDocuments(ctx context.Context, nodeID int64) ([]*engine.Document, error)
	// TreeDocuments returns the documents of every version at or below path.
	TreeDocuments(ctx context.Context, path string) ([]*engine.Document, error)
}

var postgresProviderSchema = []string{
	`CREATE TABLE IF NOT EXISTS indexing_documents (
		version_id BIGINT PRIMARY KEY,
		node_id    BIGINT NOT NULL,
		path       TEXT   NOT NULL,
		document   JSONB  NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_indexing_documents_node ON indexing_documents (node_id)`,
	`CREATE INDEX IF NOT EXISTS idx_indexing_documents_path ON indexing_documents (lower(path) text_pattern_ops)`,
}

// PostgresProvider reads documents the content store saved alongside each
// version.
type PostgresProvider struct {
	client *postgres.Client
}

func NewPostgresProvider(ctx context.Context, client *postgres.Client) (*PostgresProvider, error) {
	if err := client.EnsureSchema(ctx, postgresProviderSchema...); err != nil {
		return nil, fmt.Errorf("preparing document schema: %w", err)
	}
	return &PostgresProvider{client: client}, nil
}

func (p *PostgresProvider) Document(ctx context.Context, versionID int64) (*engine.Document, error) {
	var path string
	var raw []byte
	err := p.client.DB.QueryRowContext(ctx,
		`SELECT path, document FROM indexing_documents WHERE version_id = $1`, versionID,
	).Scan(&path, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %d: %w", versionID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document of version %d: %w", versionID, err)
	}
	return decodeDocument(path, raw)
}

func (p *PostgresProvider) NodeDocuments(ctx context.Context, nodeID int64) ([]*engine.Document, error) {
	return p.query(ctx,
		`SELECT path, document FROM indexing_documents WHERE node_id = $1 ORDER BY version_id`, nodeID)
}

func (p *PostgresProvider) TreeDocuments(ctx context.Context, path string) ([]*engine.Document, error) {
	root := fields.TreeTerm(path)
	return p.query(ctx,
		`SELECT path, document FROM indexing_documents
		 WHERE lower(path) = $1 OR lower(path) LIKE $2 ESCAPE '\'
		 ORDER BY path, version_id`,
		root, escapeLike(root)+"/%")
}

func (p *PostgresProvider) query(ctx context.Context, q string, args ...any) ([]*engine.Document, error) {
	rows, err := p.client.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()
	var docs []*engine.Document
	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		doc, err := decodeDocument(path, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// decodeDocument parses a stored document. A document that does not decode
// or lacks its version id cannot be indexed and is reported with its path.
func decodeDocument(path string, raw []byte) (*engine.Document, error) {
	var doc engine.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrDocumentBuild, path, err)
	}
	if _, ok := doc.Value(fields.VersionID); !ok {
		return nil, fmt.Errorf("%w: %s: no %s field", apperrors.ErrDocumentBuild, path, fields.VersionID)
	}
	return &doc, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
