// Package storage provides database access for the ad unit catalogue
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/internal/sdk/ortb"
)

// AdUnit maps an app ad unit to exchange inventory
type AdUnit struct {
	ID           string     `json:"id"`
	UnitID       string     `json:"unit_id"`
	Name         string     `json:"name"`
	Format       sdk.Format `json:"format"`
	TagID        string     `json:"tag_id"`
	BidFloor     float64    `json:"bid_floor"`
	BidFloorCur  string     `json:"bid_floor_cur"`
	RewardType   string     `json:"reward_type,omitempty"`
	RewardAmount int        `json:"reward_amount,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AdUnitStore provides database operations for ad units
type AdUnitStore struct {
	db *sql.DB
}

// NewAdUnitStore creates a new ad unit store
func NewAdUnitStore(db *sql.DB) *AdUnitStore {
	return &AdUnitStore{db: db}
}

const adUnitColumns = `id, unit_id, name, format, tag_id, bid_floor, bid_floor_cur,
		       reward_type, reward_amount, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAdUnit(row rowScanner) (*AdUnit, error) {
	var u AdUnit
	var format string
	var rewardType sql.NullString
	var rewardAmount sql.NullInt64

	err := row.Scan(
		&u.ID,
		&u.UnitID,
		&u.Name,
		&format,
		&u.TagID,
		&u.BidFloor,
		&u.BidFloorCur,
		&rewardType,
		&rewardAmount,
		&u.Status,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Format = sdk.Format(format)
	u.RewardType = rewardType.String
	u.RewardAmount = int(rewardAmount.Int64)
	return &u, nil
}

// GetByUnitID retrieves an active ad unit; nil when absent
func (s *AdUnitStore) GetByUnitID(ctx context.Context, unitID string) (*AdUnit, error) {
	query := `
		SELECT ` + adUnitColumns + `
		FROM ad_units
		WHERE unit_id = $1 AND status = 'active'
	`

	u, err := scanAdUnit(s.db.QueryRowContext(ctx, query, unitID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Ad unit not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ad unit: %w", err)
	}
	return u, nil
}

// List retrieves all active ad units
func (s *AdUnitStore) List(ctx context.Context) ([]*AdUnit, error) {
	query := `
		SELECT ` + adUnitColumns + `
		FROM ad_units
		WHERE status = 'active'
		ORDER BY unit_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ad units: %w", err)
	}
	defer rows.Close()

	units := make([]*AdUnit, 0, 32)
	for rows.Next() {
		u, err := scanAdUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ad unit row: %w", err)
		}
		units = append(units, u)
	}

	return units, rows.Err()
}

// Create adds a new ad unit
func (s *AdUnitStore) Create(ctx context.Context, u *AdUnit) error {
	status := u.Status
	if status == "" {
		status = "active"
	}
	cur := u.BidFloorCur
	if cur == "" {
		cur = "USD"
	}

	query := `
		INSERT INTO ad_units (
			unit_id, name, format, tag_id, bid_floor, bid_floor_cur, reward_type, reward_amount, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		u.UnitID,
		u.Name,
		string(u.Format),
		u.TagID,
		u.BidFloor,
		cur,
		nullString(u.RewardType),
		u.RewardAmount,
		status,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ad unit: %w", err)
	}

	u.Status = status
	u.BidFloorCur = cur
	return nil
}

// Delete soft-deletes an ad unit by setting status to 'archived'
func (s *AdUnitStore) Delete(ctx context.Context, unitID string) error {
	query := `
		UPDATE ad_units
		SET status = 'archived', updated_at = NOW()
		WHERE unit_id = $1
	`

	result, err := s.db.ExecContext(ctx, query, unitID)
	if err != nil {
		return fmt.Errorf("failed to delete ad unit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ad unit not found: %s", unitID)
	}
	return nil
}

// ResolvePlacement implements ortb.PlacementResolver. Units registered for
// another format are treated as absent.
func (s *AdUnitStore) ResolvePlacement(ctx context.Context, unitID string, format sdk.Format) (*ortb.Placement, error) {
	u, err := s.GetByUnitID(ctx, unitID)
	if err != nil || u == nil {
		return nil, err
	}
	if u.Format != "" && u.Format != format {
		return nil, nil
	}
	return &ortb.Placement{
		TagID:        u.TagID,
		BidFloor:     u.BidFloor,
		BidFloorCur:  u.BidFloorCur,
		RewardType:   u.RewardType,
		RewardAmount: u.RewardAmount,
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NewDBConnection creates a new database connection
func NewDBConnection(host, port, user, password, dbname, sslmode string) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Lookups happen once per ad load, so a small pool is enough
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
