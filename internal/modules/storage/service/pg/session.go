package pg

import (
	"context"
	"errors"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/pkg/exception"

	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, start_date, last_trade_date, ticker, name, fund, spent_fund, quantity, avr_price, count`

// Save upserts by id.
func (s *Store) Save(ctx context.Context, sess models.Session) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SaveSession: %w", err)
		}
	}()

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO trading_session (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				last_trade_date = EXCLUDED.last_trade_date,
				fund            = EXCLUDED.fund,
				spent_fund      = EXCLUDED.spent_fund,
				quantity        = EXCLUDED.quantity,
				avr_price       = EXCLUDED.avr_price,
				count           = EXCLUDED.count`,
			sess.ID, sess.StartDate, sess.CurrentDate, sess.Ticker, sess.Name,
			sess.Fund, sess.SpentFund, sess.Quantity, sess.AvgPrice, sess.Tranches,
		)
		return err
	})
}

func (s *Store) Load(ctx context.Context, id int64) (sess models.Session, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.LoadSession %d: %w", id, err)
		}
	}()

	row := s.db.Conn().QueryRow(ctx, `SELECT `+sessionColumns+` FROM trading_session WHERE id = $1`, id)
	sess, err = scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, exception.ErrNotFound
	}
	return sess, err
}

func (s *Store) List(ctx context.Context) (out []models.Session, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ListSessions: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx, `SELECT `+sessionColumns+` FROM trading_session ORDER BY start_date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id int64) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.DeleteSession %d: %w", id, err)
		}
	}()

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `DELETE FROM trading_session WHERE id = $1`, id)
		return err
	})
}

func scanSession(row pgx.Row) (models.Session, error) {
	var sess models.Session
	err := row.Scan(
		&sess.ID, &sess.StartDate, &sess.CurrentDate, &sess.Ticker, &sess.Name,
		&sess.Fund, &sess.SpentFund, &sess.Quantity, &sess.AvgPrice, &sess.Tranches,
	)
	return sess, err
}
