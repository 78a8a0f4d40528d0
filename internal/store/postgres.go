package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ListingRow is one rental listing as stored. Lat and Lng are nil for
// listings that were never geocoded.
type ListingRow struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	Address        string   `json:"address"`
	Description    string   `json:"description"`
	Lat            *float64 `json:"lat"`
	Lng            *float64 `json:"lng"`
	Price          float64  `json:"price"`
	Capacity       int      `json:"capacity"`
	Amenities      []string `json:"amenities"`
	LocationTokens []string `json:"location_tokens"`
	TotalUnits     int      `json:"total_units"`
	OccupiedUnits  int      `json:"occupied_units"`
}

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{DB: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rental_listings (
            id              BIGINT PRIMARY KEY,
            title           TEXT NOT NULL,
            address         TEXT NOT NULL DEFAULT '',
            description     TEXT NOT NULL DEFAULT '',
            lat             DOUBLE PRECISION,
            lng             DOUBLE PRECISION,
            price           NUMERIC NOT NULL CHECK (price >= 0),
            capacity        INTEGER NOT NULL CHECK (capacity >= 1),
            amenities       JSONB NOT NULL DEFAULT '[]'::jsonb,
            location_tokens JSONB NOT NULL DEFAULT '[]'::jsonb,
            total_units     INTEGER NOT NULL DEFAULT 0,
            occupied_units  INTEGER NOT NULL DEFAULT 0,
            active          BOOLEAN NOT NULL DEFAULT true,
            created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_rental_listings_active ON rental_listings(active);`,
		`CREATE INDEX IF NOT EXISTS idx_rental_listings_price ON rental_listings(price);`,
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// LoadListings returns every active listing ordered by id.
func (s *Store) LoadListings(ctx context.Context) ([]ListingRow, error) {
	if s.DB == nil {
		return nil, errors.New("nil db")
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT id, title, address, description, lat, lng, price::float8, capacity,
               amenities::text, location_tokens::text, total_units, occupied_units
        FROM rental_listings
        WHERE active
        ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ListingRow
	for rows.Next() {
		var (
			r                 ListingRow
			amenities, tokens string
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Address, &r.Description, &r.Lat, &r.Lng, &r.Price, &r.Capacity,
			&amenities, &tokens, &r.TotalUnits, &r.OccupiedUnits); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(amenities), &r.Amenities); err != nil {
			return nil, fmt.Errorf("listing %d amenities: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(tokens), &r.LocationTokens); err != nil {
			return nil, fmt.Errorf("listing %d location tokens: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertListings writes rows in one transaction, replacing existing rows
// with the same id.
func (s *Store) UpsertListings(ctx context.Context, in []ListingRow) (err error) {
	if s.DB == nil {
		return errors.New("nil db")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, r := range in {
		amenities, err := jsonArray(r.Amenities)
		if err != nil {
			return err
		}
		tokens, err := jsonArray(r.LocationTokens)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `
            INSERT INTO rental_listings (id, title, address, description, lat, lng, price, capacity,
                                         amenities, location_tokens, total_units, occupied_units)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10::jsonb,$11,$12)
            ON CONFLICT (id)
            DO UPDATE SET title=EXCLUDED.title, address=EXCLUDED.address, description=EXCLUDED.description,
                          lat=EXCLUDED.lat, lng=EXCLUDED.lng, price=EXCLUDED.price, capacity=EXCLUDED.capacity,
                          amenities=EXCLUDED.amenities, location_tokens=EXCLUDED.location_tokens,
                          total_units=EXCLUDED.total_units, occupied_units=EXCLUDED.occupied_units,
                          active=true, updated_at=now()`,
			r.ID, r.Title, r.Address, r.Description, r.Lat, r.Lng, r.Price, r.Capacity,
			amenities, tokens, r.TotalUnits, r.OccupiedUnits,
		); err != nil {
			return fmt.Errorf("upsert listing %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func jsonArray(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}
