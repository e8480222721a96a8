// Package storage is the bot's local bookkeeping: one sqlite database holding
// the persisted resting-order records, telegram notification targets, and the
// application log sink.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/zanotrade/marketbot/marketbot"
)

//go:embed schema.sql
var schemaDDL string

// ErrNotFound is returned when no record exists for the requested trade id.
var ErrNotFound = errors.New("storage: record not found")

// OrderRecord is the persisted state of one configured resting order.
type OrderRecord struct {
	TradeID   string
	PairID    int64
	Side      marketbot.Side
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	AppliedTo []int64
}

// Applied reports whether the given counter-offer id was already settled
// against this record.
func (r OrderRecord) Applied(offerID int64) bool {
	for _, id := range r.AppliedTo {
		if id == offerID {
			return true
		}
	}
	return false
}

// Storage wraps the sqlite database. sqlite handles one writer at a time, so
// all mutations serialize on the mutex.
type Storage struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (creating if needed) the database at path and applies the schema.
func New(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// FindByTradeID loads the record for tradeID, or ErrNotFound.
func (s *Storage) FindByTradeID(ctx context.Context, tradeID string) (*OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT trade_id, pair_id, side, price, amount, remaining, applied_to FROM orders WHERE trade_id = ?`,
		tradeID)
	return scanOrder(row)
}

// Create inserts a fresh record. The trade id must not exist yet.
func (s *Storage) Create(ctx context.Context, rec OrderRecord) error {
	applied := []byte("[]")
	if rec.AppliedTo != nil {
		var err error
		applied, err = json.Marshal(rec.AppliedTo)
		if err != nil {
			return fmt.Errorf("marshal applied list: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (trade_id, pair_id, side, price, amount, remaining, applied_to, created_at_utc, updated_at_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TradeID, rec.PairID, string(rec.Side),
		rec.Price.String(), rec.Amount.String(), rec.Remaining.String(),
		string(applied), now, now)
	if err != nil {
		return fmt.Errorf("insert order record: %w", err)
	}
	return nil
}

// UpdateRemaining stores the venue-reported remaining size for tradeID.
// Negative values are clamped to zero.
func (s *Storage) UpdateRemaining(ctx context.Context, tradeID string, remaining decimal.Decimal) error {
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET remaining = ?, updated_at_utc = ? WHERE trade_id = ?`,
		remaining.String(), time.Now().UTC().UnixMilli(), tradeID)
	if err != nil {
		return fmt.Errorf("update remaining: %w", err)
	}
	return requireRow(res)
}

// AppendApplied adds offerID to the record's applied list. Appending an id
// that is already present is a no-op, so a settlement confirmed again after
// a restart does not duplicate the entry.
func (s *Storage) AppendApplied(ctx context.Context, tradeID string, offerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT applied_to FROM orders WHERE trade_id = ?`, tradeID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("load applied list: %w", err)
	}

	var applied []int64
	if err := json.Unmarshal([]byte(raw), &applied); err != nil {
		return fmt.Errorf("decode applied list: %w", err)
	}
	for _, id := range applied {
		if id == offerID {
			return nil
		}
	}
	applied = append(applied, offerID)

	encoded, err := json.Marshal(applied)
	if err != nil {
		return fmt.Errorf("encode applied list: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET applied_to = ?, updated_at_utc = ? WHERE trade_id = ?`,
		string(encoded), time.Now().UTC().UnixMilli(), tradeID)
	if err != nil {
		return fmt.Errorf("update applied list: %w", err)
	}
	return requireRow(res)
}

// Delete removes the record for tradeID. Missing records are not an error.
func (s *Storage) Delete(ctx context.Context, tradeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE trade_id = ?`, tradeID); err != nil {
		return fmt.Errorf("delete order record: %w", err)
	}
	return nil
}

// SyncWithConfig reconciles saved records against the loaded configuration on
// startup. A record is deleted when its trade id is no longer configured, or
// when the configured pair, amount, or (for fixed-price pairs) price no
// longer matches what the record was created from.
func (s *Storage) SyncWithConfig(ctx context.Context, pairs []marketbot.PairConfig) error {
	records, err := s.listOrders(ctx)
	if err != nil {
		return err
	}

	byTradeID := make(map[string]marketbot.PairConfig, len(pairs))
	for _, p := range pairs {
		if p.TradeID != "" {
			byTradeID[p.TradeID] = p
		}
	}

	for _, rec := range records {
		cfg, ok := byTradeID[rec.TradeID]
		stale := !ok ||
			cfg.PairID != rec.PairID ||
			!cfg.Amount.Equal(rec.Amount) ||
			(cfg.Mode() == marketbot.ModeFixed && !cfg.Price.Equal(rec.Price))
		if !stale {
			continue
		}
		if err := s.Delete(ctx, rec.TradeID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) listOrders(ctx context.Context) ([]OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_id, pair_id, side, price, amount, remaining, applied_to FROM orders`)
	if err != nil {
		return nil, fmt.Errorf("list order records: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// TelegramTargets returns the chat ids registered for settlement notices.
func (s *Storage) TelegramTargets(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM telegram_targets ORDER BY added_at_utc`)
	if err != nil {
		return nil, fmt.Errorf("list telegram targets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddTelegramTarget registers a chat id; duplicates are ignored.
func (s *Storage) AddTelegramTarget(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO telegram_targets (chat_id, added_at_utc) VALUES (?, ?)`,
		chatID, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("add telegram target: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*OrderRecord, error) {
	var (
		rec     OrderRecord
		side    string
		price   string
		amount  string
		left    string
		applied string
	)
	if err := row.Scan(&rec.TradeID, &rec.PairID, &side, &price, &amount, &left, &applied); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order record: %w", err)
	}

	rec.Side = marketbot.Side(side)

	var err error
	if rec.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("decode price %q: %w", price, err)
	}
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", amount, err)
	}
	if rec.Remaining, err = decimal.NewFromString(left); err != nil {
		return nil, fmt.Errorf("decode remaining %q: %w", left, err)
	}
	if err := json.Unmarshal([]byte(applied), &rec.AppliedTo); err != nil {
		return nil, fmt.Errorf("decode applied list: %w", err)
	}
	return &rec, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
