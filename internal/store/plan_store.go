package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nimbusvault/backend/internal/models"
)

// ErrPlanNotFound is returned when a plan tier is not found.
var ErrPlanNotFound = errors.New("plan not found")

// PlanStore provides database operations for the plan catalog. The catalog is
// immutable at runtime: rows change only through administrative tooling.
type PlanStore struct {
	db *sql.DB
}

// NewPlanStore creates a new PlanStore instance.
func NewPlanStore(db *sql.DB) (*PlanStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &PlanStore{db: db}, nil
}

// ListPlans returns all plan tiers ordered by monthly price ascending.
func (s *PlanStore) ListPlans(ctx context.Context) ([]models.PlanTier, error) {
	query := `
		SELECT id, name, monthly_price, storage_limit_gb, has_premium_features, created_at, updated_at
		FROM subscription_types
		ORDER BY monthly_price ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.PlanTier
	for rows.Next() {
		var p models.PlanTier
		if err := rows.Scan(
			&p.ID, &p.Name, &p.MonthlyPrice, &p.StorageLimitGB,
			&p.HasPremiumFeatures, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}

	return plans, rows.Err()
}

// GetPlanByID returns a plan tier by its id.
func (s *PlanStore) GetPlanByID(ctx context.Context, id int64) (*models.PlanTier, error) {
	query := `SELECT id, name, monthly_price, storage_limit_gb, has_premium_features, created_at, updated_at
		FROM subscription_types WHERE id = $1`

	var p models.PlanTier
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.MonthlyPrice, &p.StorageLimitGB,
		&p.HasPremiumFeatures, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan by id: %w", err)
	}
	return &p, nil
}

// CreatePlan inserts a new plan tier. Used by administrative tooling only.
func (s *PlanStore) CreatePlan(ctx context.Context, p *models.PlanTier) error {
	query := `
		INSERT INTO subscription_types (name, monthly_price, storage_limit_gb, has_premium_features)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	return s.db.QueryRowContext(ctx, query,
		p.Name, p.MonthlyPrice, p.StorageLimitGB, p.HasPremiumFeatures,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpsertPlanByName inserts a plan tier or updates the existing tier with the
// same name. Used by the seed command so reseeding stays idempotent.
func (s *PlanStore) UpsertPlanByName(ctx context.Context, p *models.PlanTier) error {
	query := `
		INSERT INTO subscription_types (name, monthly_price, storage_limit_gb, has_premium_features)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET monthly_price = EXCLUDED.monthly_price,
		    storage_limit_gb = EXCLUDED.storage_limit_gb,
		    has_premium_features = EXCLUDED.has_premium_features,
		    updated_at = now()
		RETURNING id, created_at, updated_at
	`

	return s.db.QueryRowContext(ctx, query,
		p.Name, p.MonthlyPrice, p.StorageLimitGB, p.HasPremiumFeatures,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpdatePlan updates an existing plan tier's attributes.
func (s *PlanStore) UpdatePlan(ctx context.Context, p *models.PlanTier) error {
	query := `
		UPDATE subscription_types
		SET name = $2,
		    monthly_price = $3,
		    storage_limit_gb = $4,
		    has_premium_features = $5,
		    updated_at = now()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.MonthlyPrice, p.StorageLimitGB, p.HasPremiumFeatures,
	)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrPlanNotFound
	}
	return nil
}
