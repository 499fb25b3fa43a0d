package scheme

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidSchemeID indicates that a scheme identifier is not a positive integer.
	ErrInvalidSchemeID = errors.New("scheme: invalid scheme id")
	// ErrInvalidLayerID indicates that a layer identifier is not a positive integer.
	ErrInvalidLayerID = errors.New("scheme: invalid layer id")
	// ErrInvalidUserID indicates that a user identifier is not a positive integer.
	ErrInvalidUserID = errors.New("scheme: invalid user id")
)

// SchemeID represents a validated scheme identifier.
type SchemeID int64

// NewSchemeID validates the value and returns a SchemeID.
func NewSchemeID(value int64) (SchemeID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSchemeID, value)
	}
	return SchemeID(value), nil
}

// ParseSchemeID parses a decimal room key into a SchemeID.
func ParseSchemeID(raw string) (SchemeID, error) {
	trimmed := strings.TrimSpace(raw)
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSchemeID, raw)
	}
	return NewSchemeID(value)
}

// Int64 exposes the raw identifier value.
func (id SchemeID) Int64() int64 {
	return int64(id)
}

// String renders the identifier as its decimal room key.
func (id SchemeID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// LayerID represents a validated layer identifier.
type LayerID int64

// NewLayerID validates the value and returns a LayerID.
func NewLayerID(value int64) (LayerID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLayerID, value)
	}
	return LayerID(value), nil
}

// Int64 exposes the raw identifier value.
func (id LayerID) Int64() int64 {
	return int64(id)
}

// UserID represents a validated user identifier.
type UserID int64

// NewUserID validates the value and returns a UserID.
func NewUserID(value int64) (UserID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidUserID, value)
	}
	return UserID(value), nil
}

// Int64 exposes the raw identifier value.
func (id UserID) Int64() int64 {
	return int64(id)
}

// Scheme models a persisted paint scheme, the unit of collaboration.
type Scheme struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement"`
	UserID           int64  `gorm:"column:user_id;not null;index"`
	Name             string `gorm:"column:name;size:190;not null"`
	CarID            int64  `gorm:"column:car_id;not null;default:0"`
	GuideData        string `gorm:"column:guide_data;type:text;not null;default:'{}'"`
	LastModifiedBy   int64  `gorm:"column:last_modified_by;not null;default:0"`
	DateModified     int64  `gorm:"column:date_modified;not null;default:0"`
	ThumbnailUpdated bool   `gorm:"column:thumbnail_updated;not null;default:false"`
	RaceUpdated      bool   `gorm:"column:race_updated;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;default:0"`

	Shares []Share `gorm:"foreignKey:SchemeID"`
}

// TableName provides the explicit table binding for GORM.
func (Scheme) TableName() string {
	return "schemes"
}

// Layer models a child visual element of a scheme.
type Layer struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SchemeID   int64  `gorm:"column:scheme_id;not null;index"`
	LayerData  string `gorm:"column:layer_data;type:text;not null;default:'{}'"`
	LayerOrder int64  `gorm:"column:layer_order;not null;default:0"`
	Visible    bool   `gorm:"column:visible;not null;default:true"`
	Locked     bool   `gorm:"column:locked;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Layer) TableName() string {
	return "layers"
}

// Share records a collaborator grant on a scheme.
type Share struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SchemeID int64  `gorm:"column:scheme_id;not null;index:idx_shares_scheme_user,priority:1"`
	UserID   int64  `gorm:"column:user_id;not null;index:idx_shares_scheme_user,priority:2"`
	Token    string `gorm:"column:token;size:190;not null;default:''"`
	Editable bool   `gorm:"column:editable;not null;default:false"`
	Accepted bool   `gorm:"column:accepted;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Share) TableName() string {
	return "scheme_shares"
}
