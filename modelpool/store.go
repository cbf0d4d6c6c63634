// Package modelpool is the persistent repository of device-model slots.
package modelpool

import (
	"context"
	"errors"
	"fmt"

	"battery_dashboard_etl/models"

	"gorm.io/gorm"
)

// ErrStorageUnavailable is returned by ListAvailable when the backing store
// cannot be queried. The returned mapping is empty but usable.
var ErrStorageUnavailable = errors.New("model store unavailable")

// Pool is the contract the resolver needs from the model repository.
type Pool interface {
	ListAvailable(ctx context.Context) (map[uint]string, error)
	TryBindMac(ctx context.Context, modelID uint, mac string) (bool, error)
	FindByMac(ctx context.Context, mac string) (*models.DeviceModel, error)
}

// Store implements Pool on top of gorm.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store backed by db
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func unbound(tx *gorm.DB) *gorm.DB {
	return tx.Where("(mac_address IS NULL OR mac_address = '')")
}

// ListAvailable returns id -> name for every model with no MAC bound.
func (s *Store) ListAvailable(ctx context.Context) (map[uint]string, error) {
	available := make(map[uint]string)
	if s.db == nil {
		return available, ErrStorageUnavailable
	}

	var rows []models.DeviceModel
	err := s.db.WithContext(ctx).
		Model(&models.DeviceModel{}).
		Scopes(unbound).
		Select("id", "nome").
		Find(&rows).Error
	if err != nil {
		return available, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	for _, row := range rows {
		available[row.ID] = row.Name
	}
	return available, nil
}

// TryBindMac sets mac_address on the model only if it is currently unbound.
// The check and the write are one UPDATE statement so two binders racing for
// the same model cannot both succeed.
func (s *Store) TryBindMac(ctx context.Context, modelID uint, mac string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.DeviceModel{}).
		Where("id = ?", modelID).
		Scopes(unbound).
		Update("mac_address", mac)
	if result.Error != nil {
		return false, fmt.Errorf("failed to bind mac %s to model %d: %w", mac, modelID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// FindByMac returns the model bound to mac, or nil when none is.
func (s *Store) FindByMac(ctx context.Context, mac string) (*models.DeviceModel, error) {
	if mac == "" {
		return nil, nil
	}

	var model models.DeviceModel
	err := s.db.WithContext(ctx).
		Where("mac_address = ?", mac).
		Order("id ASC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find model for mac %s: %w", mac, err)
	}
	return &model, nil
}

// Seed inserts one available model per name and returns the created rows.
func (s *Store) Seed(ctx context.Context, names ...string) ([]models.DeviceModel, error) {
	created := make([]models.DeviceModel, 0, len(names))
	for _, name := range names {
		created = append(created, models.DeviceModel{Name: name})
	}
	if len(created) == 0 {
		return created, nil
	}
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		return nil, fmt.Errorf("failed to seed models: %w", err)
	}
	return created, nil
}

// List returns every model ordered by id.
func (s *Store) List(ctx context.Context) ([]models.DeviceModel, error) {
	var all []models.DeviceModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return all, nil
}
