// Package store persists strawberries and their observation records in
// SQLite and computes the aggregate statistics.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"strawberrytrace/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

// DB interface defines the methods our datastore should implement
type DB interface {
	CreateStrawberry(ctx context.Context, qrCode, notes string, now time.Time) (*models.Strawberry, error)
	ListStrawberries(ctx context.Context, status string, limit int) ([]models.Strawberry, error)
	GetFullInfo(ctx context.Context, id int) (*models.StrawberryFullInfo, error)
	FindByQRCode(ctx context.Context, qrCode string) (*models.StrawberryFullInfo, error)
	UpdateStatus(ctx context.Context, id int, status string) error
	DeleteStrawberry(ctx context.Context, id int) error
	AddRecord(ctx context.Context, record *models.ObservationRecord) error
	GetRecord(ctx context.Context, strawberryID, recordID int) (*models.ObservationRecord, error)
	DeleteRecord(ctx context.Context, strawberryID, recordID int) error
	GetStatistics(ctx context.Context, now time.Time) (*models.Statistics, error)
	Close() error
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}

	log.Println("Database schema initialized successfully")
	return nil
}

// CreateStrawberry registers a new plant under a unique QR code.
func (s *SQLiteDB) CreateStrawberry(ctx context.Context, qrCode, notes string, now time.Time) (*models.Strawberry, error) {
	createdAt := now.Format(models.TimeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO strawberries (qr_code, status, notes, created_at) VALUES (?, 'active', ?, ?)`,
		qrCode, notes, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert strawberry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Strawberry{
		ID:        int(id),
		QRCode:    qrCode,
		Status:    "active",
		Notes:     notes,
		CreatedAt: createdAt,
	}, nil
}

// ListStrawberries returns plants newest first, each annotated with the
// timestamp of its latest record when one exists.
func (s *SQLiteDB) ListStrawberries(ctx context.Context, status string, limit int) ([]models.Strawberry, error) {
	query := `
		SELECT s.id, s.qr_code, s.status, COALESCE(s.notes, ''), s.created_at,
			COALESCE((SELECT MAX(recorded_at) FROM strawberry_records r WHERE r.strawberry_id = s.id), '')
		FROM strawberries s
	`
	args := []any{}
	if status != "" {
		query += " WHERE s.status = ?"
		args = append(args, status)
	}
	query += " ORDER BY s.created_at DESC, s.id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Strawberry
	for rows.Next() {
		var sb models.Strawberry
		if err := rows.Scan(&sb.ID, &sb.QRCode, &sb.Status, &sb.Notes, &sb.CreatedAt, &sb.LatestRecordedAt); err != nil {
			return nil, err
		}
		results = append(results, sb)
	}
	return results, rows.Err()
}

func (s *SQLiteDB) getStrawberry(ctx context.Context, where string, arg any) (*models.Strawberry, error) {
	sb := &models.Strawberry{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, qr_code, status, COALESCE(notes, ''), created_at FROM strawberries WHERE `+where, arg,
	).Scan(&sb.ID, &sb.QRCode, &sb.Status, &sb.Notes, &sb.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sb, nil
}

func (s *SQLiteDB) recordsFor(ctx context.Context, strawberryID int) ([]models.ObservationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strawberry_id, image_path,
			COALESCE(ai_description, ''), COALESCE(growth_stage, ''), COALESCE(health_status, ''),
			COALESCE(size_estimate, ''), COALESCE(color_description, ''), recorded_at
		FROM strawberry_records
		WHERE strawberry_id = ?
		ORDER BY recorded_at DESC, id DESC
	`, strawberryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.ObservationRecord{}
	for rows.Next() {
		var r models.ObservationRecord
		if err := rows.Scan(&r.ID, &r.StrawberryID, &r.ImagePath, &r.AIDescription,
			&r.GrowthStage, &r.HealthStatus, &r.SizeEstimate, &r.ColorDescription, &r.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetFullInfo loads a plant with its records, newest first. Returns nil
// when the plant does not exist.
func (s *SQLiteDB) GetFullInfo(ctx context.Context, id int) (*models.StrawberryFullInfo, error) {
	sb, err := s.getStrawberry(ctx, "id = ?", id)
	if err != nil || sb == nil {
		return nil, err
	}
	records, err := s.recordsFor(ctx, sb.ID)
	if err != nil {
		return nil, err
	}
	return &models.StrawberryFullInfo{Strawberry: *sb, Records: records}, nil
}

// FindByQRCode looks a plant up by its scanned code.
func (s *SQLiteDB) FindByQRCode(ctx context.Context, qrCode string) (*models.StrawberryFullInfo, error) {
	sb, err := s.getStrawberry(ctx, "qr_code = ?", qrCode)
	if err != nil || sb == nil {
		return nil, err
	}
	records, err := s.recordsFor(ctx, sb.ID)
	if err != nil {
		return nil, err
	}
	return &models.StrawberryFullInfo{Strawberry: *sb, Records: records}, nil
}

// UpdateStatus transitions a plant between active and inactive.
func (s *SQLiteDB) UpdateStatus(ctx context.Context, id int, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE strawberries SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteStrawberry removes a plant; its records cascade.
func (s *SQLiteDB) DeleteStrawberry(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strawberries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddRecord inserts an observation record and fills in its id.
func (s *SQLiteDB) AddRecord(ctx context.Context, record *models.ObservationRecord) error {
	if record.RecordedAt == "" {
		record.RecordedAt = time.Now().Format(models.TimeLayout)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO strawberry_records (
			strawberry_id, image_path, ai_description, growth_stage,
			health_status, size_estimate, color_description, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, record.StrawberryID, record.ImagePath, record.AIDescription, record.GrowthStage,
		record.HealthStatus, record.SizeEstimate, record.ColorDescription, record.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = int(id)
	return nil
}

// GetRecord loads a single observation record of a plant.
func (s *SQLiteDB) GetRecord(ctx context.Context, strawberryID, recordID int) (*models.ObservationRecord, error) {
	r := &models.ObservationRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, strawberry_id, image_path,
			COALESCE(ai_description, ''), COALESCE(growth_stage, ''), COALESCE(health_status, ''),
			COALESCE(size_estimate, ''), COALESCE(color_description, ''), recorded_at
		FROM strawberry_records WHERE id = ? AND strawberry_id = ?
	`, recordID, strawberryID).Scan(&r.ID, &r.StrawberryID, &r.ImagePath, &r.AIDescription,
		&r.GrowthStage, &r.HealthStatus, &r.SizeEstimate, &r.ColorDescription, &r.RecordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRecord removes a single observation record.
func (s *SQLiteDB) DeleteRecord(ctx context.Context, strawberryID, recordID int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM strawberry_records WHERE id = ? AND strawberry_id = ?`, recordID, strawberryID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetStatistics computes the aggregate counts. Growth-stage and
// health-status maps only consider each plant's latest record, so a plant
// counts once under its current condition.
func (s *SQLiteDB) GetStatistics(ctx context.Context, now time.Time) (*models.Statistics, error) {
	stats := &models.Statistics{
		StatusCounts:       map[string]int{},
		GrowthStageCounts:  map[string]int{},
		HealthStatusCounts: map[string]int{},
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strawberries`).Scan(&stats.TotalStrawberries); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strawberry_records`).Scan(&stats.TotalRecords); err != nil {
		return nil, err
	}

	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	// Week starts on Monday.
	weekStart := todayStart.AddDate(0, 0, -((int(now.Weekday()) + 6) % 7))
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strawberries WHERE created_at >= ?`,
		todayStart.Format(models.TimeLayout)).Scan(&stats.TodayNewStrawberries); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strawberries WHERE created_at >= ?`,
		weekStart.Format(models.TimeLayout)).Scan(&stats.WeekNewStrawberries); err != nil {
		return nil, err
	}

	if err := s.countInto(ctx, stats.StatusCounts,
		`SELECT status, COUNT(*) FROM strawberries GROUP BY status`); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, stats.GrowthStageCounts, latestRecordCountQuery("growth_stage")); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, stats.HealthStatusCounts, latestRecordCountQuery("health_status")); err != nil {
		return nil, err
	}
	return stats, nil
}

func latestRecordCountQuery(column string) string {
	return fmt.Sprintf(`
		SELECT %[1]s, COUNT(*)
		FROM strawberry_records sr
		JOIN (
			SELECT strawberry_id, MAX(recorded_at) AS max_recorded_at
			FROM strawberry_records
			GROUP BY strawberry_id
		) latest ON sr.strawberry_id = latest.strawberry_id
			AND sr.recorded_at = latest.max_recorded_at
		WHERE %[1]s IS NOT NULL AND %[1]s != ''
		GROUP BY %[1]s
	`, column)
}

func (s *SQLiteDB) countInto(ctx context.Context, dst map[string]int, query string) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dst[key] = count
	}
	return rows.Err()
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
