package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoCatalog is returned when no question catalog document has been loaded
// into the store yet.
var ErrNoCatalog = errors.New("no question catalog found")

type Repository interface {
	GetCatalog(ctx context.Context) (*Catalog, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

// GetCatalog fetches the most recently loaded catalog document. The catalog
// is stored as a single JSON document per row, mirroring the shape the
// authoring side produces.
func (r *postgresRepo) GetCatalog(ctx context.Context) (*Catalog, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM question_catalogs ORDER BY created_at DESC LIMIT 1`,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCatalog
		}
		return nil, fmt.Errorf("failed to load question catalog: %w", err)
	}

	var c Catalog
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal question catalog: %w", err)
	}
	if len(c.Sections) == 0 {
		return nil, ErrNoCatalog
	}
	return &c, nil
}
