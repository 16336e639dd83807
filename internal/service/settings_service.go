package service

import (
	"context"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CompanySettingsService resolves storefront settings, falling back to
// built-in defaults when no record exists.
type CompanySettingsService struct {
	store      *store.Store
	defaultFee decimal.Decimal
	logger     *zap.Logger
}

// NewCompanySettingsService creates a settings service
func NewCompanySettingsService(store *store.Store, defaultFee decimal.Decimal) *CompanySettingsService {
	return &CompanySettingsService{
		store:      store,
		defaultFee: defaultFee,
		logger:     util.GetLogger(),
	}
}

// Settings returns the stored record or an unsaved default one
func (s *CompanySettingsService) Settings(ctx context.Context) (*models.CompanySettings, error) {
	settings, err := s.store.GetCompanySettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		return settings, nil
	}

	s.logger.Debug("No company settings stored, using defaults")
	return &models.CompanySettings{
		CompanyName:   "Migi Shoes",
		ContactEmail:  "info@migishoes.com",
		ContactPhone:  "+254715462406",
		BusinessHours: "Monday - Friday, 9 AM - 6 PM EAT",
		ShippingFee:   s.defaultFee,
	}, nil
}

// ShippingFee is the flat fee added to every order
func (s *CompanySettingsService) ShippingFee(ctx context.Context) (decimal.Decimal, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return settings.ShippingFee, nil
}
