package scheme

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrSchemeNotFound indicates that the referenced scheme row does not exist.
	ErrSchemeNotFound = errors.New("scheme: scheme not found")
	// ErrLayerNotFound indicates that the referenced layer row does not exist.
	ErrLayerNotFound = errors.New("scheme: layer not found")
	// ErrEmptyPatch indicates an update call that carries no fields to write.
	ErrEmptyPatch = errors.New("scheme: empty patch")

	errMissingDatabase = errors.New("scheme: database handle is required")
)

// LayerPatch describes one row update in a bulk layer write. Fields are
// written as given; the bulk path never merges layer_data.
type LayerPatch struct {
	ID     LayerID
	Fields map[string]interface{}
}

// Store provides persistence for schemes, layers, and collaborator grants.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store around the provided database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// GetScheme loads a scheme row together with its collaborator grants.
func (s *Store) GetScheme(ctx context.Context, id SchemeID) (*Scheme, error) {
	var row Scheme
	err := s.db.WithContext(ctx).
		Preload("Shares").
		Where("id = ?", id.Int64()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrSchemeNotFound, id.Int64())
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateScheme applies the given column patch to a scheme row.
func (s *Store) UpdateScheme(ctx context.Context, id SchemeID, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return ErrEmptyPatch
	}
	result := s.db.WithContext(ctx).
		Model(&Scheme{}).
		Where("id = ?", id.Int64()).
		Updates(patch)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrSchemeNotFound, id.Int64())
	}
	return nil
}

// DeleteScheme removes a scheme row and its dependent layers and grants.
func (s *Store) DeleteScheme(ctx context.Context, id SchemeID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scheme_id = ?", id.Int64()).Delete(&Layer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("scheme_id = ?", id.Int64()).Delete(&Share{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id.Int64()).Delete(&Scheme{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %d", ErrSchemeNotFound, id.Int64())
		}
		return nil
	})
}

// GetLayer loads a single layer row.
func (s *Store) GetLayer(ctx context.Context, id LayerID) (*Layer, error) {
	var row Layer
	err := s.db.WithContext(ctx).
		Where("id = ?", id.Int64()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrLayerNotFound, id.Int64())
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateLayer applies the given column patch to a layer row.
func (s *Store) UpdateLayer(ctx context.Context, id LayerID, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return ErrEmptyPatch
	}
	result := s.db.WithContext(ctx).
		Model(&Layer{}).
		Where("id = ?", id.Int64()).
		Updates(patch)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrLayerNotFound, id.Int64())
	}
	return nil
}

// BulkUpdateLayers applies each patch as an independent row update, in order.
// Rows that no longer exist are skipped rather than failing the batch.
func (s *Store) BulkUpdateLayers(ctx context.Context, patches []LayerPatch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, patch := range patches {
			if len(patch.Fields) == 0 {
				continue
			}
			if err := tx.Model(&Layer{}).
				Where("id = ?", patch.ID.Int64()).
				Updates(patch.Fields).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteLayer removes a single layer row.
func (s *Store) DeleteLayer(ctx context.Context, id LayerID) error {
	result := s.db.WithContext(ctx).
		Where("id = ?", id.Int64()).
		Delete(&Layer{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrLayerNotFound, id.Int64())
	}
	return nil
}

// ListLayers returns the layers of a scheme ordered by their stacking index.
func (s *Store) ListLayers(ctx context.Context, id SchemeID) ([]Layer, error) {
	var rows []Layer
	if err := s.db.WithContext(ctx).
		Where("scheme_id = ?", id.Int64()).
		Order("layer_order ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
