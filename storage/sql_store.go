package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"carwatch/models"
)

// dialect captures the differences between the two supported engines.
type dialect struct {
	name         string
	driver       string
	dollarParams bool
}

var (
	dialectPostgres = dialect{name: "postgres", driver: "postgres", dollarParams: true}
	dialectSQLite   = dialect{name: "sqlite", driver: "sqlite"}
)

// rebind rewrites '?' placeholders to $1..$n where the engine needs it.
func (d dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQLStore implements Store over database/sql for PostgreSQL and SQLite.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// OpenPostgres connects to PostgreSQL. It does not ping or migrate.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialectPostgres.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return &SQLStore{db: db, d: dialectPostgres}, nil
}

// OpenSQLite opens (creating if needed) an embedded database file.
func OpenSQLite(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	db, err := sql.Open(dialectSQLite.driver, path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serialises writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: apply pragma %q: %w", pragma, execErr)
		}
	}
	return &SQLStore{db: db, d: dialectSQLite}, nil
}

func (s *SQLStore) Dialect() string { return s.d.name }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		token             TEXT    PRIMARY KEY,
		title             TEXT    NOT NULL DEFAULT '',
		brand_model       TEXT    NOT NULL DEFAULT '',
		year              INTEGER NOT NULL DEFAULT 0,
		price             BIGINT  NOT NULL DEFAULT 0,
		price_text        TEXT    NOT NULL DEFAULT '',
		mileage           BIGINT  NOT NULL DEFAULT 0,
		mileage_text      TEXT    NOT NULL DEFAULT '',
		region_id         INTEGER NOT NULL DEFAULT 0,
		region_name       TEXT    NOT NULL DEFAULT '',
		district          TEXT    NOT NULL DEFAULT '',
		seller_type       TEXT    NOT NULL DEFAULT '',
		chassis_condition TEXT    NOT NULL DEFAULT '',
		body_condition    TEXT    NOT NULL DEFAULT '',
		engine_condition  TEXT    NOT NULL DEFAULT '',
		tags              TEXT    NOT NULL DEFAULT '[]',
		description       TEXT    NOT NULL DEFAULT '',
		image_url         TEXT    NOT NULL DEFAULT '',
		map_url           TEXT    NOT NULL DEFAULT '',
		deal_tag          TEXT    NOT NULL DEFAULT '',
		deal_signal       INTEGER NOT NULL DEFAULT 0,
		extra_specs       TEXT    NOT NULL DEFAULT '[]',
		publish_time_text TEXT    NOT NULL DEFAULT '',
		created_at        BIGINT  NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_benchmark ON listings(brand_model, year, created_at, price)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_region    ON listings(region_id, created_at, price)`,
	`CREATE TABLE IF NOT EXISTS subscribers (
		chat_id             BIGINT  PRIMARY KEY,
		active              BOOLEAN NOT NULL DEFAULT TRUE,
		name                TEXT    NOT NULL DEFAULT '',
		min_price           BIGINT  NOT NULL DEFAULT 0,
		max_price           BIGINT  NOT NULL DEFAULT 0,
		query               TEXT    NOT NULL DEFAULT '',
		region_id           INTEGER NOT NULL DEFAULT 0,
		negative_words      TEXT    NOT NULL DEFAULT '[]',
		subscription_expiry BIGINT  NOT NULL DEFAULT 0,
		plan                TEXT    NOT NULL DEFAULT '',
		state               TEXT    NOT NULL DEFAULT '',
		created_at          BIGINT  NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscribers_match ON subscribers(region_id, active, subscription_expiry)`,
}

// Migrate creates tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate: %w", s.d.name, err)
		}
	}
	return nil
}

const listingColumns = `token, title, brand_model, year, price, price_text, mileage, mileage_text,
	region_id, region_name, district, seller_type, chassis_condition, body_condition,
	engine_condition, tags, description, image_url, map_url, deal_tag, deal_signal,
	extra_specs, publish_time_text, created_at`

func (s *SQLStore) ListingExists(ctx context.Context, token string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT 1 FROM listings WHERE token = ?`), token).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: listing exists: %w", s.d.name, err)
	}
	return true, nil
}

func (s *SQLStore) InsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	tags, err := marshalJSON(l.Tags, "[]")
	if err != nil {
		return false, err
	}
	specs, err := marshalJSON(l.ExtraSpecs, "[]")
	if err != nil {
		return false, err
	}
	query := s.d.rebind(`INSERT INTO listings (` + listingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (token) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		l.Token, l.Title, l.BrandModel, l.Year, l.Price, l.PriceText, l.Mileage, l.MileageText,
		l.RegionID, l.RegionName, l.District, l.SellerType, l.ChassisCondition, l.BodyCondition,
		l.EngineCondition, tags, l.Description, l.ImageURL, l.MapURL, l.DealTag, int(l.DealSignal),
		specs, l.PublishTimeText, l.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: insert listing %s: %w", s.d.name, l.Token, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", s.d.name, err)
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLStore) GetListing(ctx context.Context, token string) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+listingColumns+` FROM listings WHERE token = ?`), token)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get listing %s: %w", s.d.name, token, err)
	}
	return l, nil
}

func (s *SQLStore) PriceStats(ctx context.Context, q StatsQuery) (PriceStats, error) {
	var (
		stats PriceStats
		avg   sql.NullFloat64
		min   sql.NullInt64
		max   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT COUNT(*), AVG(price), MIN(price), MAX(price)
		FROM listings
		WHERE brand_model = ? AND year = ? AND created_at >= ? AND price > ?`),
		q.BrandModel, q.Year, q.Since.Unix(), q.Floor,
	).Scan(&stats.Count, &avg, &min, &max)
	if err != nil {
		return PriceStats{}, fmt.Errorf("%s: price stats: %w", s.d.name, err)
	}
	stats.Average = avg.Float64
	stats.Min = min.Int64
	stats.Max = max.Int64
	return stats, nil
}

func (s *SQLStore) RecentListings(ctx context.Context, q RecentQuery) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE region_id = ? AND created_at >= ? AND price > 0 AND price <= ?
		ORDER BY price ASC, created_at DESC`
	args := []any{q.RegionID, q.Since.Unix(), q.MaxPrice}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: recent listings: %w", s.d.name, err)
	}
	defer rows.Close()

	var out []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan listing: %w", s.d.name, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`DELETE FROM listings WHERE created_at < ?`), before.Unix())
	if err != nil {
		return 0, fmt.Errorf("%s: purge: %w", s.d.name, err)
	}
	return res.RowsAffected()
}

const subscriberColumns = `chat_id, active, name, min_price, max_price, query, region_id,
	negative_words, subscription_expiry, plan, state, created_at`

func (s *SQLStore) EligibleSubscribers(ctx context.Context, regionID int, price int64, now time.Time) ([]*models.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT `+subscriberColumns+` FROM subscribers
		WHERE active = ? AND subscription_expiry > ? AND region_id = ? AND (max_price >= ? OR max_price <= 0)
		ORDER BY chat_id`),
		true, now.Unix(), regionID, price,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: eligible subscribers: %w", s.d.name, err)
	}
	defer rows.Close()

	var out []*models.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan subscriber: %w", s.d.name, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetSubscriber(ctx context.Context, chatID int64) (*models.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+subscriberColumns+` FROM subscribers WHERE chat_id = ?`), chatID)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get subscriber %d: %w", s.d.name, chatID, err)
	}
	return sub, nil
}

// SaveSubscriber inserts or fully replaces a subscriber row.
func (s *SQLStore) SaveSubscriber(ctx context.Context, sub *models.Subscriber) error {
	words, err := marshalJSON(sub.Filters.NegativeWords, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO subscribers (`+subscriberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			active = excluded.active,
			name = excluded.name,
			min_price = excluded.min_price,
			max_price = excluded.max_price,
			query = excluded.query,
			region_id = excluded.region_id,
			negative_words = excluded.negative_words,
			subscription_expiry = excluded.subscription_expiry,
			plan = excluded.plan,
			state = excluded.state`),
		sub.ChatID, sub.Active, sub.Name, sub.Filters.MinPrice, sub.Filters.MaxPrice,
		sub.Filters.Query, sub.Filters.RegionID, words, sub.SubscriptionExpiry.Unix(),
		string(sub.Plan), string(sub.State), sub.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%s: save subscriber %d: %w", s.d.name, sub.ChatID, err)
	}
	return nil
}

func (s *SQLStore) DeactivateSubscriber(ctx context.Context, chatID int64) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE subscribers SET active = ? WHERE chat_id = ?`), false, chatID)
	if err != nil {
		return fmt.Errorf("%s: deactivate subscriber %d: %w", s.d.name, chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(r rowScanner) (*models.Listing, error) {
	var (
		l       models.Listing
		tags    string
		specs   string
		signal  int
		created int64
	)
	if err := r.Scan(
		&l.Token, &l.Title, &l.BrandModel, &l.Year, &l.Price, &l.PriceText, &l.Mileage, &l.MileageText,
		&l.RegionID, &l.RegionName, &l.District, &l.SellerType, &l.ChassisCondition, &l.BodyCondition,
		&l.EngineCondition, &tags, &l.Description, &l.ImageURL, &l.MapURL, &l.DealTag, &signal,
		&specs, &l.PublishTimeText, &created,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tags, &l.Tags); err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}
	if err := unmarshalJSON(specs, &l.ExtraSpecs); err != nil {
		return nil, fmt.Errorf("extra specs: %w", err)
	}
	l.DealSignal = models.PriceSignal(signal)
	l.CreatedAt = time.Unix(created, 0)
	return &l, nil
}

func scanSubscriber(r rowScanner) (*models.Subscriber, error) {
	var (
		sub     models.Subscriber
		words   string
		expiry  int64
		created int64
		plan    string
		state   string
	)
	if err := r.Scan(
		&sub.ChatID, &sub.Active, &sub.Name, &sub.Filters.MinPrice, &sub.Filters.MaxPrice,
		&sub.Filters.Query, &sub.Filters.RegionID, &words, &expiry, &plan, &state, &created,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(words, &sub.Filters.NegativeWords); err != nil {
		return nil, fmt.Errorf("negative words: %w", err)
	}
	sub.SubscriptionExpiry = time.Unix(expiry, 0)
	sub.CreatedAt = time.Unix(created, 0)
	// Unknown plans read as base and unknown states as idle.
	sub.Plan, _ = models.ParsePlan(plan)
	if sub.State = models.ConvState(state); !sub.State.Valid() {
		sub.State = models.StateIdle
	}
	return &sub, nil
}

func marshalJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
