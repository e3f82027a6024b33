package facility

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/incinerator-map/internal/geo"
)

// SQLiteStore serves facilities from a SQLite file. It is the lightweight
// backing store for a self-hosted /incinerators endpoint.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database at dsn and applies connection pragmas.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS incinerators (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	latitude         REAL,
	longitude        REAL,
	address          TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	capacity         REAL,
	operational      INTEGER NOT NULL DEFAULT 0,
	year_established INTEGER,
	boundary         TEXT,
	buildings        TEXT
);
CREATE INDEX IF NOT EXISTS idx_incinerators_lat_lng ON incinerators(latitude, longitude);
`

// Migrate creates the facility table if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteSelect = `SELECT id, name, latitude, longitude, address, description,
	capacity, operational, year_established, boundary, buildings FROM incinerators`

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, bbox *geo.BBox) ([]Facility, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if bbox == nil {
		rows, err = s.db.QueryContext(ctx, sqliteSelect+` ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			sqliteSelect+` WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ? ORDER BY id`,
			bbox.South, bbox.North, bbox.West, bbox.East,
		)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list facilities")
	}
	defer rows.Close() //nolint:errcheck

	var out []Facility
	for rows.Next() {
		f, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rows")
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Facility, error) {
	f, err := scanSQLite(s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*Facility, error) {
	var (
		f                   Facility
		lat, lng, capacity  sql.NullFloat64
		year                sql.NullInt64
		boundary, buildings sql.NullString
	)
	if err := row.Scan(&f.ID, &f.Name, &lat, &lng, &f.Address, &f.Description,
		&capacity, &f.Operational, &year, &boundary, &buildings); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan facility")
	}
	if lat.Valid && lng.Valid {
		f.Latitude = Float(lat.Float64)
		f.Longitude = Float(lng.Float64)
	}
	if capacity.Valid {
		f.Capacity = Float(capacity.Float64)
	}
	if year.Valid {
		f.YearEstablished = Int(int(year.Int64))
	}
	var bPtr, bsPtr *string
	if boundary.Valid {
		bPtr = &boundary.String
	}
	if buildings.Valid {
		bsPtr = &buildings.String
	}
	if err := decodeShapes(&f, bPtr, bsPtr); err != nil {
		return nil, err
	}
	return &f, nil
}

// Import validates and upserts facilities in a single transaction.
// Returns the number of rows written.
func (s *SQLiteStore) Import(ctx context.Context, fs []Facility) (int, error) {
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO incinerators (id, name, latitude, longitude, address, description,
			capacity, operational, year_established, boundary, buildings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			address = excluded.address,
			description = excluded.description,
			capacity = excluded.capacity,
			operational = excluded.operational,
			year_established = excluded.year_established,
			boundary = excluded.boundary,
			buildings = excluded.buildings`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare import")
	}
	defer stmt.Close() //nolint:errcheck

	for _, f := range fs {
		if _, err := stmt.ExecContext(ctx,
			f.ID, f.Name, nullFloat(f.Latitude), nullFloat(f.Longitude), f.Address, f.Description,
			nullFloat(f.Capacity), f.Operational, nullInt(f.YearEstablished),
			nullText(string(f.Boundary)), nullText(buildingsText(f)),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import facility %s", f.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import")
	}
	return len(fs), nil
}

func buildingsText(f Facility) string {
	if len(f.Buildings) == 0 {
		return ""
	}
	parts := make([]string, len(f.Buildings))
	for i, b := range f.Buildings {
		parts[i] = string(b)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
