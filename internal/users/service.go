package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound indicates that no account exists for the identifier.
	ErrAccountNotFound = errors.New("users: account not found")

	errMissingDatabase = errors.New("users: database connection required")
)

// ServiceConfig describes the dependencies required for account lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages account rows and their session secrets.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// GetByID loads a single account row.
func (s *Service) GetByID(ctx context.Context, id int64) (*Account, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// RotateSessionToken records a freshly issued session token for the account.
// Connections already admitted keep their identity; the next handshake with
// the old token fails.
func (s *Service) RotateSessionToken(ctx context.Context, id int64, token string) error {
	result := s.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"session_token": token,
			"updated_at":    s.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	return nil
}
