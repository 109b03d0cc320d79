package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"perimeter/internal/geo"
	id "perimeter/pkg/domain"
	"perimeter/pkg/platform/sentinel"
	txcontext "perimeter/pkg/platform/tx"
)

const pqUniqueViolation = "23505"

// PostgresStore implements Store against the location_records and
// membership_edges tables. Statements run on the transaction carried in
// context when one is present, so a RunInTx orchestrator can batch the
// SWITCH mutation without the store knowing about transaction boundaries.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `id, user_id, area_id, area_name, in_latitude, in_longitude, in_time,
	out_latitude, out_longitude, out_time, disconnected, switched`

func (s *PostgresStore) FindOpenRecord(ctx context.Context, userID id.UserID) (*LocationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM location_records WHERE user_id = $1 AND disconnected = false`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(userID))
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query open record: %w", err)
	}
	return record, nil
}

// OpenRecord inserts conditionally: the WHERE NOT EXISTS guard plus the
// partial unique index on (user_id) WHERE disconnected = false together make
// "second ENTER" a conflict rather than a duplicate, even across instances.
func (s *PostgresStore) OpenRecord(ctx context.Context, record *LocationRecord) error {
	query := `
		INSERT INTO location_records (` + recordColumns + `)
		SELECT $1, $2, $3, $4, $5, $6, $7, NULL, NULL, NULL, false, false
		WHERE NOT EXISTS (
			SELECT 1 FROM location_records WHERE user_id = $2 AND disconnected = false
		)
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.UserID),
		uuid.UUID(record.AreaID),
		record.AreaName,
		record.InCoordinate.Latitude,
		record.InCoordinate.Longitude,
		record.InTime,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert open record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert open record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) CloseRecord(ctx context.Context, recordID id.RecordID, out geo.Coordinate, outTime time.Time, switched bool) error {
	query := `
		UPDATE location_records
		SET out_latitude = $2, out_longitude = $3, out_time = $4, disconnected = true, switched = $5
		WHERE id = $1 AND disconnected = false
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(recordID),
		out.Latitude,
		out.Longitude,
		outTime,
		switched,
	)
	if err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) CreateEdge(ctx context.Context, userID id.UserID, areaID id.FenceID) error {
	query := `
		INSERT INTO membership_edges (user_id, area_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, area_id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(userID), uuid.UUID(areaID), time.Now())
	if err != nil {
		return fmt.Errorf("insert membership edge: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteEdge(ctx context.Context, userID id.UserID, areaID id.FenceID) error {
	query := `DELETE FROM membership_edges WHERE user_id = $1 AND area_id = $2`
	_, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(userID), uuid.UUID(areaID))
	if err != nil {
		return fmt.Errorf("delete membership edge: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasEdge(ctx context.Context, userID id.UserID, areaID id.FenceID) (bool, error) {
	query := `SELECT 1 FROM membership_edges WHERE user_id = $1 AND area_id = $2`
	var one int
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(userID), uuid.UUID(areaID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query membership edge: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListEdgesByUser(ctx context.Context, userID id.UserID) ([]MembershipEdge, error) {
	query := `SELECT user_id, area_id, created_at FROM membership_edges WHERE user_id = $1 ORDER BY created_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query edges by user: %w", err)
	}
	defer rows.Close()

	var edges []MembershipEdge
	for rows.Next() {
		var (
			edge   MembershipEdge
			user   uuid.UUID
			areaID uuid.UUID
		)
		if err := rows.Scan(&user, &areaID, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edge.UserID = id.UserID(user)
		edge.AreaID = id.FenceID(areaID)
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

func (s *PostgresStore) ListOccupants(ctx context.Context, areaID id.FenceID) ([]id.UserID, error) {
	query := `SELECT user_id FROM membership_edges WHERE area_id = $1 ORDER BY created_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(areaID))
	if err != nil {
		return nil, fmt.Errorf("query occupants: %w", err)
	}
	defer rows.Close()

	var users []id.UserID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan occupant: %w", err)
		}
		users = append(users, id.UserID(userID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occupants: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID, limit int) ([]*LocationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM location_records WHERE user_id = $1 ORDER BY in_time DESC`
	args := []any{uuid.UUID(userID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*LocationRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*LocationRecord, error) {
	var (
		record   LocationRecord
		recordID uuid.UUID
		userID   uuid.UUID
		areaID   uuid.UUID
		outLat   sql.NullFloat64
		outLon   sql.NullFloat64
		outTime  sql.NullTime
	)
	err := row.Scan(
		&recordID,
		&userID,
		&areaID,
		&record.AreaName,
		&record.InCoordinate.Latitude,
		&record.InCoordinate.Longitude,
		&record.InTime,
		&outLat,
		&outLon,
		&outTime,
		&record.Disconnected,
		&record.Switched,
	)
	if err != nil {
		return nil, err
	}
	record.ID = id.RecordID(recordID)
	record.UserID = id.UserID(userID)
	record.AreaID = id.FenceID(areaID)
	if outLat.Valid && outLon.Valid {
		record.OutCoordinate = &geo.Coordinate{Latitude: outLat.Float64, Longitude: outLon.Float64}
	}
	if outTime.Valid {
		t := outTime.Time
		record.OutTime = &t
	}
	return &record, nil
}
