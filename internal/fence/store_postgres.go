package fence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "perimeter/pkg/domain"
	"perimeter/pkg/platform/sentinel"
)

// PostgresStore reads fence geometry from the geofence_areas table. The table
// is owned by the admin surface; this store never mutates existing rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const areaColumns = `id, name, center_latitude, center_longitude, radius_meters, owner_id, owner_email, created_at`

func (s *PostgresStore) FindByID(ctx context.Context, fenceID id.FenceID) (*Area, error) {
	query := `SELECT ` + areaColumns + ` FROM geofence_areas WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(fenceID))
	area, err := scanArea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query fence: %w", err)
	}
	return area, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*Area, error) {
	query := `SELECT ` + areaColumns + ` FROM geofence_areas ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query fences: %w", err)
	}
	defer rows.Close()
	return scanAreas(rows)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID id.UserID) ([]*Area, error) {
	query := `SELECT ` + areaColumns + ` FROM geofence_areas WHERE owner_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(ownerID))
	if err != nil {
		return nil, fmt.Errorf("query fences by owner: %w", err)
	}
	defer rows.Close()
	return scanAreas(rows)
}

func (s *PostgresStore) Create(ctx context.Context, area *Area) error {
	query := `
		INSERT INTO geofence_areas (` + areaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(area.ID),
		area.Name,
		area.Center.Latitude,
		area.Center.Longitude,
		area.RadiusMeters,
		uuid.UUID(area.OwnerID),
		area.OwnerEmail,
		area.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fence: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArea(row rowScanner) (*Area, error) {
	var (
		area    Area
		fenceID uuid.UUID
		ownerID uuid.UUID
	)
	err := row.Scan(
		&fenceID,
		&area.Name,
		&area.Center.Latitude,
		&area.Center.Longitude,
		&area.RadiusMeters,
		&ownerID,
		&area.OwnerEmail,
		&area.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	area.ID = id.FenceID(fenceID)
	area.OwnerID = id.UserID(ownerID)
	return &area, nil
}

func scanAreas(rows *sql.Rows) ([]*Area, error) {
	var areas []*Area
	for rows.Next() {
		area, err := scanArea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fence: %w", err)
		}
		areas = append(areas, area)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fences: %w", err)
	}
	return areas, nil
}
