package asset

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/playforge/walletd/internal/wallet"
	"github.com/playforge/walletd/pkg/logger"
)

// Store is the subset of the wallet store the asset admin service needs.
type Store interface {
	CreateAssetType(ctx context.Context, at *wallet.AssetType) error
	GetAssetType(ctx context.Context, id uuid.UUID) (*wallet.AssetType, error)
	GetAssetTypeByCode(ctx context.Context, code string) (*wallet.AssetType, error)
	ListAssetTypes(ctx context.Context) ([]*wallet.AssetType, error)
	DeactivateAssetType(ctx context.Context, id uuid.UUID) error
}

// Service manages the asset type catalog. Asset types are created by the
// admin surface and never deleted, only deactivated.
type Service struct {
	store Store
	log   *logger.Logger
}

// NewService creates a new asset type admin service.
func NewService(store Store, log *logger.Logger) *Service {
	return &Service{
		store: store,
		log:   log.WithField("component", "asset_service"),
	}
}

// CreateParams are the inputs for creating an asset type.
type CreateParams struct {
	Code          string
	Name          string
	Description   string
	DecimalPlaces int32
}

// Create registers a new asset type. The code is normalized to uppercase;
// a duplicate code surfaces wallet.ErrDuplicateKey.
func (s *Service) Create(ctx context.Context, p CreateParams) (*wallet.AssetType, error) {
	now := time.Now().UTC()
	at := &wallet.AssetType{
		ID:            uuid.New(),
		Code:          wallet.NormalizeAssetCode(p.Code),
		Name:          p.Name,
		Description:   p.Description,
		DecimalPlaces: p.DecimalPlaces,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := at.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateAssetType(ctx, at); err != nil {
		return nil, err
	}
	s.log.Info("asset type created", "code", at.Code, "decimal_places", at.DecimalPlaces)
	return at, nil
}

// GetByCode looks up an asset type by its case-insensitive code.
func (s *Service) GetByCode(ctx context.Context, code string) (*wallet.AssetType, error) {
	return s.store.GetAssetTypeByCode(ctx, code)
}

// List returns all asset types ordered by code.
func (s *Service) List(ctx context.Context) ([]*wallet.AssetType, error) {
	return s.store.ListAssetTypes(ctx)
}

// Deactivate retires an asset type from new transactions. Existing balances
// and history remain readable.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeactivateAssetType(ctx, id); err != nil {
		return err
	}
	s.log.Info("asset type deactivated", "asset_type_id", id)
	return nil
}
