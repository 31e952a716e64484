// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the read-only site-object catalog
// queries consumed by the object resolver. Catalog writes (import, admin
// CRUD) are an external concern and have no functions here.
package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/ptoflow/materials-backend/internal/domain"
)

// SearchObjects resolves a free-text query against the catalog, matching the
// PS label and the descriptive names as a substring. SQLite's LIKE ignores
// case for ASCII; Cyrillic matches as typed, which is how catalog names are
// entered. Results are ordered by PS label for stability; limit caps the
// result size.
func SearchObjects(ctx context.Context, db *gorm.DB, query string, limit int) ([]domain.SiteObject, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + q + "%"
	var out []domain.SiteObject
	err := db.WithContext(ctx).
		Where("ps_label LIKE ? OR ps_name LIKE ? OR title_name LIKE ?",
			pattern, pattern, pattern).
		Order("ps_label asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListLinkedObjects returns objects bound to a shared scope, used as the
// implicit object for group requests. Ordered by PS label; the first entry
// wins when several are linked.
func ListLinkedObjects(ctx context.Context, db *gorm.DB, scopeID string) ([]domain.SiteObject, error) {
	var out []domain.SiteObject
	err := db.WithContext(ctx).
		Where("linked_scope = ?", scopeID).
		Order("ps_label asc").
		Find(&out).Error
	return out, err
}

// GetObject fetches a single object by ID, or ErrNotFound.
func GetObject(ctx context.Context, db *gorm.DB, id string) (*domain.SiteObject, error) {
	var obj domain.SiteObject
	if err := db.WithContext(ctx).Where("id = ?", id).First(&obj).Error; err != nil {
		return nil, err
	}
	return &obj, nil
}
