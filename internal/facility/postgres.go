package facility

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/incinerator-map/internal/db"
	"github.com/sells-group/incinerator-map/internal/geo"
)

// PostgresStore reads facilities from a PostGIS table. Expected schema:
//
//	public.incinerators (
//	  id text primary key, name text not null,
//	  latitude double precision, longitude double precision,
//	  address text, description text, capacity double precision,
//	  operational boolean not null, year_established integer,
//	  boundary geometry, buildings jsonb,
//	  geom geometry(Point, 4326)
//	)
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore over pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const pgSelectColumns = `
	SELECT id, name, latitude, longitude,
	       coalesce(address, ''), coalesce(description, ''),
	       capacity, operational, year_established,
	       ST_AsGeoJSON(boundary), buildings::text
	FROM public.incinerators`

const pgMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE TABLE IF NOT EXISTS public.incinerators (
	id               text PRIMARY KEY,
	name             text NOT NULL,
	latitude         double precision,
	longitude        double precision,
	address          text,
	description      text,
	capacity         double precision,
	operational      boolean NOT NULL DEFAULT false,
	year_established integer,
	boundary         geometry,
	buildings        jsonb,
	geom             geometry(Point, 4326)
);
CREATE INDEX IF NOT EXISTS idx_incinerators_geom ON public.incinerators USING gist (geom);
`

// Migrate creates the facility table and its spatial index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgMigration)
	return eris.Wrap(err, "facility: postgres migrate")
}

var pgImport = db.UpsertConfig{
	Table: "public.incinerators",
	Columns: []string{
		"id", "name", "latitude", "longitude", "address", "description",
		"capacity", "operational", "year_established", "boundary", "buildings",
	},
	ColumnTypes: []string{
		"text", "text", "double precision", "double precision", "text", "text",
		"double precision", "boolean", "integer", "text", "text",
	},
	ConflictKeys: []string{"id"},
	Expressions: map[string]string{
		"boundary":  "ST_SetSRID(ST_GeomFromGeoJSON(boundary), 4326)",
		"buildings": "buildings::jsonb",
	},
	Derived: []db.DerivedColumn{{
		Column: "geom",
		Expr:   "CASE WHEN latitude IS NULL OR longitude IS NULL THEN NULL ELSE ST_SetSRID(ST_MakePoint(longitude, latitude), 4326) END",
	}},
}

// Import validates and upserts facilities. Returns the number of rows written.
func (s *PostgresStore) Import(ctx context.Context, fs []Facility) (int, error) {
	rows := make([][]any, len(fs))
	for i, f := range fs {
		if err := f.Validate(); err != nil {
			return 0, err
		}
		rows[i] = []any{
			f.ID, f.Name, nullFloat(f.Latitude), nullFloat(f.Longitude), f.Address, f.Description,
			nullFloat(f.Capacity), f.Operational, nullInt(f.YearEstablished),
			nullText(string(f.Boundary)), nullText(buildingsText(f)),
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, pgImport, rows)
	if err != nil {
		return 0, eris.Wrap(err, "facility: postgres import")
	}
	return int(n), nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, bbox *geo.BBox) ([]Facility, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if bbox == nil {
		rows, err = s.pool.Query(ctx, pgSelectColumns+` ORDER BY id`)
	} else {
		rows, err = s.pool.Query(ctx,
			pgSelectColumns+` WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326) ORDER BY id`,
			bbox.West, bbox.South, bbox.East, bbox.North,
		)
	}
	if err != nil {
		return nil, eris.Wrap(err, "facility: postgres list")
	}
	defer rows.Close()

	var out []Facility
	for rows.Next() {
		f, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "facility: postgres list rows")
	}
	return out, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Facility, error) {
	return scanPostgres(s.pool.QueryRow(ctx, pgSelectColumns+` WHERE id = $1`, id))
}

func scanPostgres(row pgx.Row) (*Facility, error) {
	var (
		f         Facility
		boundary  *string
		buildings *string
	)
	if err := row.Scan(
		&f.ID, &f.Name, &f.Latitude, &f.Longitude,
		&f.Address, &f.Description,
		&f.Capacity, &f.Operational, &f.YearEstablished,
		&boundary, &buildings,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "facility: postgres scan")
	}
	if err := decodeShapes(&f, boundary, buildings); err != nil {
		return nil, err
	}
	return &f, nil
}

// decodeShapes fills the GeoJSON fields from their text columns.
func decodeShapes(f *Facility, boundary, buildings *string) error {
	if boundary != nil && *boundary != "" {
		f.Boundary = json.RawMessage(*boundary)
	}
	if buildings != nil && *buildings != "" {
		if err := json.Unmarshal([]byte(*buildings), &f.Buildings); err != nil {
			return eris.Wrapf(err, "facility %s: decode buildings", f.ID)
		}
	}
	return nil
}
