package scheme

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var storeTestSequence int

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	storeTestSequence++
	dsn := fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", storeTestSequence)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Scheme{}, &Layer{}, &Share{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store, db
}

func mustSchemeID(t *testing.T, value int64) SchemeID {
	t.Helper()
	id, err := NewSchemeID(value)
	if err != nil {
		t.Fatalf("unexpected scheme id error: %v", err)
	}
	return id
}

func mustLayerID(t *testing.T, value int64) LayerID {
	t.Helper()
	id, err := NewLayerID(value)
	if err != nil {
		t.Fatalf("unexpected layer id error: %v", err)
	}
	return id
}

func TestGetSchemePreloadsShares(t *testing.T) {
	store, db := newTestStore(t)
	row := Scheme{UserID: 1, Name: "night fury", GuideData: "{}"}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed scheme: %v", err)
	}
	if err := db.Create(&Share{SchemeID: row.ID, UserID: 2, Editable: true, Accepted: true}).Error; err != nil {
		t.Fatalf("failed to seed share: %v", err)
	}

	loaded, err := store.GetScheme(context.Background(), mustSchemeID(t, row.ID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded.Shares) != 1 {
		t.Fatalf("expected 1 share, got %d", len(loaded.Shares))
	}
	if !loaded.Shares[0].Editable {
		t.Fatal("expected editable share")
	}
}

func TestGetSchemeNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.GetScheme(context.Background(), mustSchemeID(t, 99))
	if !errors.Is(err, ErrSchemeNotFound) {
		t.Fatalf("expected ErrSchemeNotFound, got %v", err)
	}
}

func TestUpdateSchemeAppliesPatch(t *testing.T) {
	store, db := newTestStore(t)
	row := Scheme{UserID: 1, Name: "draft", GuideData: "{}", ThumbnailUpdated: true, RaceUpdated: true}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed scheme: %v", err)
	}

	patch := map[string]interface{}{
		"name":              "final",
		"thumbnail_updated": false,
		"race_updated":      false,
		"last_modified_by":  int64(7),
	}
	if err := store.UpdateScheme(context.Background(), mustSchemeID(t, row.ID), patch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored Scheme
	if err := db.Take(&stored, row.ID).Error; err != nil {
		t.Fatalf("failed to reload scheme: %v", err)
	}
	if stored.Name != "final" {
		t.Fatalf("expected name updated, got %q", stored.Name)
	}
	if stored.ThumbnailUpdated || stored.RaceUpdated {
		t.Fatal("expected dirty flags reset")
	}
	if stored.LastModifiedBy != 7 {
		t.Fatalf("expected last_modified_by 7, got %d", stored.LastModifiedBy)
	}
}

func TestUpdateSchemeMissingRow(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.UpdateScheme(context.Background(), mustSchemeID(t, 5), map[string]interface{}{"name": "x"})
	if !errors.Is(err, ErrSchemeNotFound) {
		t.Fatalf("expected ErrSchemeNotFound, got %v", err)
	}
}

func TestUpdateSchemeEmptyPatch(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.UpdateScheme(context.Background(), mustSchemeID(t, 5), nil)
	if !errors.Is(err, ErrEmptyPatch) {
		t.Fatalf("expected ErrEmptyPatch, got %v", err)
	}
}

func TestDeleteSchemeCascades(t *testing.T) {
	store, db := newTestStore(t)
	row := Scheme{UserID: 1, Name: "to-go", GuideData: "{}"}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed scheme: %v", err)
	}
	if err := db.Create(&Layer{SchemeID: row.ID, LayerData: "{}"}).Error; err != nil {
		t.Fatalf("failed to seed layer: %v", err)
	}
	if err := db.Create(&Share{SchemeID: row.ID, UserID: 2}).Error; err != nil {
		t.Fatalf("failed to seed share: %v", err)
	}

	if err := store.DeleteScheme(context.Background(), mustSchemeID(t, row.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var layerCount, shareCount int64
	db.Model(&Layer{}).Where("scheme_id = ?", row.ID).Count(&layerCount)
	db.Model(&Share{}).Where("scheme_id = ?", row.ID).Count(&shareCount)
	if layerCount != 0 || shareCount != 0 {
		t.Fatalf("expected dependents removed, layers=%d shares=%d", layerCount, shareCount)
	}
}

func TestUpdateLayerAppliesPatch(t *testing.T) {
	store, db := newTestStore(t)
	row := Layer{SchemeID: 1, LayerData: `{"color":"#000"}`}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed layer: %v", err)
	}

	patch := map[string]interface{}{"layer_data": `{"color":"#fff"}`, "visible": false}
	if err := store.UpdateLayer(context.Background(), mustLayerID(t, row.ID), patch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored Layer
	if err := db.Take(&stored, row.ID).Error; err != nil {
		t.Fatalf("failed to reload layer: %v", err)
	}
	if stored.LayerData != `{"color":"#fff"}` {
		t.Fatalf("expected layer_data replaced, got %s", stored.LayerData)
	}
	if stored.Visible {
		t.Fatal("expected visible false")
	}
}

func TestBulkUpdateLayersSkipsMissingRows(t *testing.T) {
	store, db := newTestStore(t)
	row := Layer{SchemeID: 1, LayerData: "{}", LayerOrder: 1}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed layer: %v", err)
	}

	patches := []LayerPatch{
		{ID: mustLayerID(t, row.ID), Fields: map[string]interface{}{"layer_order": int64(5)}},
		{ID: mustLayerID(t, 999), Fields: map[string]interface{}{"layer_order": int64(9)}},
	}
	if err := store.BulkUpdateLayers(context.Background(), patches); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored Layer
	if err := db.Take(&stored, row.ID).Error; err != nil {
		t.Fatalf("failed to reload layer: %v", err)
	}
	if stored.LayerOrder != 5 {
		t.Fatalf("expected layer_order 5, got %d", stored.LayerOrder)
	}
}

func TestDeleteLayerMissingRow(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.DeleteLayer(context.Background(), mustLayerID(t, 44))
	if !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("expected ErrLayerNotFound, got %v", err)
	}
}

func TestListLayersOrdering(t *testing.T) {
	store, db := newTestStore(t)
	for _, order := range []int64{3, 1, 2} {
		if err := db.Create(&Layer{SchemeID: 7, LayerData: "{}", LayerOrder: order}).Error; err != nil {
			t.Fatalf("failed to seed layer: %v", err)
		}
	}

	layers, err := store.ListLayers(context.Background(), mustSchemeID(t, 7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(layers) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(layers))
	}
	for i, layer := range layers {
		if layer.LayerOrder != int64(i+1) {
			t.Fatalf("expected ascending order, got %v", layers)
		}
	}
}
