package products

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrProductNotFound indicates no catalog entry matched the identifier.
	ErrProductNotFound = errors.New("products: not found")

	errMissingDatabase = errors.New("products: database handle is required")
)

// ServiceConfig describes the dependencies for catalog reads.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service serves catalog reads.
type Service struct {
	db *gorm.DB
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	return &Service{db: cfg.Database}, nil
}

// List returns the full catalog ordered by creation time.
func (s *Service) List(ctx context.Context) ([]Product, error) {
	var items []Product
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Get returns a single catalog entry.
func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	if strings.TrimSpace(id) == "" {
		return Product{}, ErrProductNotFound
	}
	var item Product
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, err
	}
	return item, nil
}
