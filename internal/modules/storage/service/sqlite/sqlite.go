package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/internal/modules/storage/service"
	"kis_trader/pkg/exception"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ service.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS trading_session (
	id              INTEGER PRIMARY KEY,
	start_date      INTEGER NOT NULL,
	last_trade_date INTEGER NOT NULL,
	ticker          TEXT NOT NULL,
	name            TEXT NOT NULL,
	fund            INTEGER NOT NULL,
	spent_fund      INTEGER NOT NULL DEFAULT 0,
	quantity        INTEGER NOT NULL DEFAULT 0,
	avr_price       INTEGER NOT NULL DEFAULT 0,
	count           INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS credentials (
	kind       TEXT PRIMARY KEY,
	key        TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS upper_limit_stocks (
	date          TEXT NOT NULL,
	ticker        TEXT NOT NULL,
	name          TEXT NOT NULL,
	closing_price INTEGER NOT NULL,
	upper_rate    REAL NOT NULL,
	PRIMARY KEY (date, ticker)
);
CREATE TABLE IF NOT EXISTS selected_stocks (
	no            INTEGER PRIMARY KEY AUTOINCREMENT,
	date          TEXT NOT NULL,
	ticker        TEXT NOT NULL,
	name          TEXT NOT NULL,
	closing_price INTEGER NOT NULL
);`

const dateLayout = "2006-01-02"

// Store is the single-file backend used for paper and local runs.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and ensures the schema.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	// one writer; avoids SQLITE_BUSY between the scheduler and the monitors
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, sess models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trading_session (id, start_date, last_trade_date, ticker, name, fund, spent_fund, quantity, avr_price, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_trade_date = excluded.last_trade_date,
			fund            = excluded.fund,
			spent_fund      = excluded.spent_fund,
			quantity        = excluded.quantity,
			avr_price       = excluded.avr_price,
			count           = excluded.count`,
		sess.ID, sess.StartDate.UnixMilli(), sess.CurrentDate.UnixMilli(), sess.Ticker, sess.Name,
		sess.Fund, sess.SpentFund, sess.Quantity, sess.AvgPrice, sess.Tranches,
	)
	if err != nil {
		return fmt.Errorf("sqlite.SaveSession %d: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id int64) (models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, start_date, last_trade_date, ticker, name, fund, spent_fund, quantity, avr_price, count
		FROM trading_session WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, exception.ErrNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("sqlite.LoadSession %d: %w", id, err)
	}
	return sess, nil
}

func (s *Store) List(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_date, last_trade_date, ticker, name, fund, spent_fund, quantity, avr_price, count
		FROM trading_session ORDER BY start_date, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite.ListSessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite.ListSessions scan: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trading_session WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite.DeleteSession %d: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (models.Session, error) {
	var (
		sess         models.Session
		start, last  int64
	)
	err := row.Scan(
		&sess.ID, &start, &last, &sess.Ticker, &sess.Name,
		&sess.Fund, &sess.SpentFund, &sess.Quantity, &sess.AvgPrice, &sess.Tranches,
	)
	if err != nil {
		return models.Session{}, err
	}
	sess.StartDate = time.UnixMilli(start)
	sess.CurrentDate = time.UnixMilli(last)
	return sess, nil
}

func (s *Store) GetCredential(ctx context.Context, kind string) (models.Credential, error) {
	var (
		c   = models.Credential{Kind: kind}
		exp int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT key, expires_at FROM credentials WHERE kind = ?`, kind).Scan(&c.Key, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Credential{}, exception.ErrNotFound
	}
	if err != nil {
		return models.Credential{}, fmt.Errorf("sqlite.GetCredential %s: %w", kind, err)
	}
	c.ExpiresAt = time.UnixMilli(exp)
	return c, nil
}

func (s *Store) SaveCredential(ctx context.Context, c models.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (kind, key, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (kind) DO UPDATE SET key = excluded.key, expires_at = excluded.expires_at`,
		c.Kind, c.Key, c.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite.SaveCredential %s: %w", c.Kind, err)
	}
	return nil
}

func (s *Store) SaveUpperLimit(ctx context.Context, date time.Time, stocks []models.UpperLimitStock) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite.SaveUpperLimit begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range stocks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO upper_limit_stocks (date, ticker, name, closing_price, upper_rate) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (date, ticker) DO UPDATE SET
				name = excluded.name, closing_price = excluded.closing_price, upper_rate = excluded.upper_rate`,
			date.Format(dateLayout), st.Ticker, st.Name, st.ClosingPrice, st.UpperRate,
		); err != nil {
			return fmt.Errorf("sqlite.SaveUpperLimit %s: %w", st.Ticker, err)
		}
	}
	return tx.Commit()
}

func (s *Store) UpperLimitOn(ctx context.Context, date time.Time) ([]models.UpperLimitStock, error) {
	day := date.Format(dateLayout)
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, name, closing_price, upper_rate FROM upper_limit_stocks
		WHERE date = ? ORDER BY name`, day)
	if err != nil {
		return nil, fmt.Errorf("sqlite.UpperLimitOn: %w", err)
	}
	defer rows.Close()

	var out []models.UpperLimitStock
	for rows.Next() {
		st := models.UpperLimitStock{Date: date}
		if err := rows.Scan(&st.Ticker, &st.Name, &st.ClosingPrice, &st.UpperRate); err != nil {
			return nil, fmt.Errorf("sqlite.UpperLimitOn scan: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) PurgeUpperLimitBefore(ctx context.Context, date time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM upper_limit_stocks WHERE date < ?`, date.Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("sqlite.PurgeUpperLimitBefore: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) ReplaceCandidates(ctx context.Context, cands []models.Candidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite.ReplaceCandidates begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM selected_stocks`); err != nil {
		return fmt.Errorf("sqlite.ReplaceCandidates clear: %w", err)
	}
	for _, c := range cands {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO selected_stocks (date, ticker, name, closing_price) VALUES (?, ?, ?, ?)`,
			c.Date.Format(dateLayout), c.Ticker, c.Name, c.ClosingPrice,
		); err != nil {
			return fmt.Errorf("sqlite.ReplaceCandidates %s: %w", c.Ticker, err)
		}
	}
	return tx.Commit()
}

func (s *Store) PopCandidate(ctx context.Context) (models.Candidate, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Candidate{}, false, fmt.Errorf("sqlite.PopCandidate begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		c   models.Candidate
		day string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT no, date, ticker, name, closing_price FROM selected_stocks ORDER BY no LIMIT 1`,
	).Scan(&c.No, &day, &c.Ticker, &c.Name, &c.ClosingPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Candidate{}, false, nil
	}
	if err != nil {
		return models.Candidate{}, false, fmt.Errorf("sqlite.PopCandidate: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM selected_stocks WHERE no = ?`, c.No); err != nil {
		return models.Candidate{}, false, fmt.Errorf("sqlite.PopCandidate delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Candidate{}, false, fmt.Errorf("sqlite.PopCandidate commit: %w", err)
	}
	c.Date, _ = time.Parse(dateLayout, day)
	return c, true, nil
}
