package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealhound/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// =============================================================================
// Categories
// =============================================================================

func (s *PostgresStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	query := `SELECT id, slug, name, score_threshold, created_at FROM categories ORDER BY slug`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.ScoreThreshold, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// =============================================================================
// Products
// =============================================================================

func (s *PostgresStore) GetProductBySourceExternalID(ctx context.Context, source, externalID string) (*models.Product, error) {
	query := `
		SELECT id, source, external_id, title, price, original_price, currency,
			url, image_url, brand, category_id, metadata, is_active,
			last_fetched_at, created_at, updated_at
		FROM products WHERE source = $1 AND external_id = $2`

	var p models.Product
	err := s.pool.QueryRow(ctx, query, source, externalID).Scan(
		&p.ID, &p.Source, &p.ExternalID, &p.Title, &p.Price, &p.OriginalPrice, &p.Currency,
		&p.URL, &p.ImageURL, &p.Brand, &p.CategoryID, &p.Metadata, &p.IsActive,
		&p.LastFetchedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (
			id, source, external_id, title, price, original_price, currency,
			url, image_url, brand, category_id, metadata, is_active,
			last_fetched_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (source, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			original_price = COALESCE(EXCLUDED.original_price, products.original_price),
			currency = EXCLUDED.currency,
			url = COALESCE(NULLIF(EXCLUDED.url, ''), products.url),
			image_url = COALESCE(NULLIF(EXCLUDED.image_url, ''), products.image_url),
			brand = COALESCE(NULLIF(EXCLUDED.brand, ''), products.brand),
			category_id = COALESCE(EXCLUDED.category_id, products.category_id),
			metadata = COALESCE(EXCLUDED.metadata, products.metadata),
			is_active = EXCLUDED.is_active,
			last_fetched_at = EXCLUDED.last_fetched_at,
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		p.ID, p.Source, p.ExternalID, p.Title, p.Price, p.OriginalPrice, p.Currency,
		p.URL, p.ImageURL, p.Brand, p.CategoryID, p.Metadata, p.IsActive,
		p.LastFetchedAt, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

// RetireStaleProducts deactivates products a source has stopped reporting.
// Returns the number of products retired.
func (s *PostgresStore) RetireStaleProducts(ctx context.Context, source string, notSeenSince time.Time) (int, error) {
	query := `
		UPDATE products SET is_active = FALSE, updated_at = NOW()
		WHERE source = $1 AND is_active = TRUE AND last_fetched_at < $2`

	tag, err := s.pool.Exec(ctx, query, source, notSeenSince)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// Price history
// =============================================================================

func (s *PostgresStore) LatestPricePoint(ctx context.Context, productID uuid.UUID) (*models.PricePoint, error) {
	query := `
		SELECT id, product_id, price, currency, source, recorded_at
		FROM price_points WHERE product_id = $1
		ORDER BY recorded_at DESC LIMIT 1`

	var p models.PricePoint
	err := s.pool.QueryRow(ctx, query, productID).Scan(
		&p.ID, &p.ProductID, &p.Price, &p.Currency, &p.Source, &p.RecordedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) InsertPricePoint(ctx context.Context, p *models.PricePoint) error {
	query := `
		INSERT INTO price_points (product_id, price, currency, source, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		p.ProductID, p.Price, p.Currency, p.Source, p.RecordedAt,
	).Scan(&p.ID)
}

func (s *PostgresStore) PriceHistory(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.PricePoint, error) {
	query := `
		SELECT id, product_id, price, currency, source, recorded_at
		FROM price_points WHERE product_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC`

	rows, err := s.pool.Query(ctx, query, productID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.ID, &p.ProductID, &p.Price, &p.Currency, &p.Source, &p.RecordedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// =============================================================================
// Deals
// =============================================================================

func (s *PostgresStore) GetActiveDeal(ctx context.Context, productID uuid.UUID, source string) (*models.Deal, error) {
	query := `
		SELECT id, product_id, source, title, url, price, original_price, discount_pct,
			type, score, tier, rationale, is_active, expires_at,
			first_seen_at, last_seen_at, deactivated_at, created_at, updated_at
		FROM deals WHERE product_id = $1 AND source = $2 AND is_active = TRUE`

	var d models.Deal
	err := s.pool.QueryRow(ctx, query, productID, source).Scan(
		&d.ID, &d.ProductID, &d.Source, &d.Title, &d.URL, &d.Price, &d.OriginalPrice, &d.DiscountPct,
		&d.Type, &d.Score, &d.Tier, &d.Rationale, &d.IsActive, &d.ExpiresAt,
		&d.FirstSeenAt, &d.LastSeenAt, &d.DeactivatedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertActiveDeal inserts or refreshes the single active deal for the
// (product, source) pair. The partial unique index on active rows makes
// re-observation an update that keeps first_seen_at.
func (s *PostgresStore) UpsertActiveDeal(ctx context.Context, d *models.Deal) error {
	query := `
		INSERT INTO deals (
			id, product_id, source, title, url, price, original_price, discount_pct,
			type, score, tier, rationale, is_active, expires_at,
			first_seen_at, last_seen_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $14, $15, $16, $17
		)
		ON CONFLICT (product_id, source) WHERE is_active DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			price = EXCLUDED.price,
			original_price = EXCLUDED.original_price,
			discount_pct = EXCLUDED.discount_pct,
			type = EXCLUDED.type,
			score = EXCLUDED.score,
			tier = EXCLUDED.tier,
			rationale = EXCLUDED.rationale,
			expires_at = EXCLUDED.expires_at,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = NOW()
		RETURNING id, first_seen_at`

	return s.pool.QueryRow(ctx, query,
		d.ID, d.ProductID, d.Source, d.Title, d.URL, d.Price, d.OriginalPrice, d.DiscountPct,
		d.Type, d.Score, d.Tier, d.Rationale, d.ExpiresAt,
		d.FirstSeenAt, d.LastSeenAt, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.ID, &d.FirstSeenAt)
}

func (s *PostgresStore) DeactivateDeal(ctx context.Context, dealID uuid.UUID) error {
	query := `
		UPDATE deals SET is_active = FALSE, deactivated_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE`

	_, err := s.pool.Exec(ctx, query, dealID)
	return err
}

// =============================================================================
// Ingestion runs
// =============================================================================

func (s *PostgresStore) CreateIngestionRun(ctx context.Context, r *models.IngestionRun) error {
	query := `
		INSERT INTO ingestion_runs (source, status, started_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	return s.pool.QueryRow(ctx, query, r.Source, r.Status, r.StartedAt).Scan(&r.ID)
}

func (s *PostgresStore) UpdateIngestionRun(ctx context.Context, r *models.IngestionRun) error {
	query := `
		UPDATE ingestion_runs SET
			status = $2, finished_at = $3, deals_found = $4,
			products_created = $5, products_updated = $6,
			deals_created = $7, deals_updated = $8, deals_skipped = $9,
			deals_deactivated = $10, errors_count = $11, error_message = $12,
			metadata = $13
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Status, r.FinishedAt, r.DealsFound,
		r.ProductsCreated, r.ProductsUpdated,
		r.DealsCreated, r.DealsUpdated, r.DealsSkipped,
		r.DealsDeactivated, r.ErrorsCount, r.ErrorMessage,
		r.Metadata,
	)
	return err
}
