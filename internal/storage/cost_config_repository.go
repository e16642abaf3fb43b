package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"charstudio/internal/models"
)

const costConfigColumns = `
	id, endpoint, method, credit_cost, description, is_enabled, created_at, updated_at
`

// CostConfigRepository handles api_credit_configs rows with caching. The
// catalog is read on every billable request and written only by admins.
type CostConfigRepository struct {
	db    *DB
	cache *LRUCache
}

// NewCostConfigRepository creates a new cost config repository
func NewCostConfigRepository(db *DB) *CostConfigRepository {
	return &CostConfigRepository{
		db:    db,
		cache: db.CostConfigCache(),
	}
}

func costConfigCacheKey(endpoint, method string) string {
	return endpoint + ":" + strings.ToUpper(method)
}

// Get retrieves the enabled config for an (endpoint, method) pair, with
// caching. Disabled rules are treated as absent.
func (r *CostConfigRepository) Get(ctx context.Context, endpoint, method string) (*models.APICostConfig, error) {
	cacheKey := costConfigCacheKey(endpoint, method)
	if cached, found := r.cache.Get(cacheKey); found {
		return cached.(*models.APICostConfig), nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM api_credit_configs
		WHERE endpoint = $1 AND method = $2 AND is_enabled = true
	`, costConfigColumns)

	var cfg models.APICostConfig
	err := r.db.conn.GetContext(ctx, &cfg, query, endpoint, strings.ToUpper(method))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCostConfigNotFound
		}
		return nil, fmt.Errorf("failed to get api cost config: %w", err)
	}

	r.cache.Set(cacheKey, &cfg)
	return &cfg, nil
}

// Upsert creates or updates the config for its (endpoint, method) key and
// invalidates the cache entry.
func (r *CostConfigRepository) Upsert(ctx context.Context, cfg models.APICostConfig) (*models.APICostConfig, error) {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now().UTC()

	query := fmt.Sprintf(`
		INSERT INTO api_credit_configs (
			id, endpoint, method, credit_cost, description, is_enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (endpoint, method) DO UPDATE
		SET credit_cost = EXCLUDED.credit_cost,
		    description = EXCLUDED.description,
		    is_enabled = EXCLUDED.is_enabled,
		    updated_at = EXCLUDED.updated_at
		RETURNING %s
	`, costConfigColumns)

	var saved models.APICostConfig
	err := r.db.conn.GetContext(ctx, &saved, query,
		cfg.ID, cfg.Endpoint, strings.ToUpper(cfg.Method), cfg.CreditCost,
		cfg.Description, cfg.IsEnabled, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert api cost config: %w", err)
	}

	r.cache.Delete(costConfigCacheKey(saved.Endpoint, saved.Method))
	return &saved, nil
}

// List returns all configs, disabled ones included, ordered by endpoint.
func (r *CostConfigRepository) List(ctx context.Context) ([]models.APICostConfig, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM api_credit_configs
		ORDER BY endpoint, method
	`, costConfigColumns)

	var configs []models.APICostConfig
	err := r.db.conn.SelectContext(ctx, &configs, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list api cost configs: %w", err)
	}
	return configs, nil
}

// InvalidateCache removes an (endpoint, method) pair from the cache.
func (r *CostConfigRepository) InvalidateCache(endpoint, method string) {
	r.cache.Delete(costConfigCacheKey(endpoint, method))
}
