package pg

import (
	"context"
	"errors"
	"fmt"
	"kis_trader/internal/models"
	"time"

	"github.com/jackc/pgx/v5"
)

func (s *Store) SaveUpperLimit(ctx context.Context, date time.Time, stocks []models.UpperLimitStock) error {
	err := s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, st := range stocks {
			batch.Queue(`
				INSERT INTO upper_limit_stocks (date, ticker, name, closing_price, upper_rate)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (date, ticker) DO UPDATE SET
					name = EXCLUDED.name,
					closing_price = EXCLUDED.closing_price,
					upper_rate = EXCLUDED.upper_rate`,
				date, st.Ticker, st.Name, st.ClosingPrice, st.UpperRate,
			)
		}
		return tx.SendBatch(ctxTx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("pg.SaveUpperLimit: %w", err)
	}
	return nil
}

func (s *Store) UpperLimitOn(ctx context.Context, date time.Time) ([]models.UpperLimitStock, error) {
	rows, err := s.db.Conn().Query(ctx, `
		SELECT date, ticker, name, closing_price, upper_rate
		FROM upper_limit_stocks WHERE date = $1 ORDER BY name`, date)
	if err != nil {
		return nil, fmt.Errorf("pg.UpperLimitOn: %w", err)
	}
	defer rows.Close()

	var out []models.UpperLimitStock
	for rows.Next() {
		var st models.UpperLimitStock
		if err := rows.Scan(&st.Date, &st.Ticker, &st.Name, &st.ClosingPrice, &st.UpperRate); err != nil {
			return nil, fmt.Errorf("pg.UpperLimitOn scan: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) PurgeUpperLimitBefore(ctx context.Context, date time.Time) (n int64, err error) {
	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctxTx, `DELETE FROM upper_limit_stocks WHERE date < $1`, date)
		n = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("pg.PurgeUpperLimitBefore: %w", err)
	}
	return n, nil
}

func (s *Store) ReplaceCandidates(ctx context.Context, cands []models.Candidate) error {
	err := s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctxTx, `DELETE FROM selected_stocks`); err != nil {
			return err
		}
		for _, c := range cands {
			if _, err := tx.Exec(ctxTx, `
				INSERT INTO selected_stocks (date, ticker, name, closing_price) VALUES ($1, $2, $3, $4)`,
				c.Date, c.Ticker, c.Name, c.ClosingPrice,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pg.ReplaceCandidates: %w", err)
	}
	return nil
}

// PopCandidate locks the oldest row so two buy jobs never take the same stock.
func (s *Store) PopCandidate(ctx context.Context) (c models.Candidate, ok bool, err error) {
	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctxTx, `
			SELECT no, date, ticker, name, closing_price FROM selected_stocks
			ORDER BY no LIMIT 1 FOR UPDATE SKIP LOCKED`,
		).Scan(&c.No, &c.Date, &c.Ticker, &c.Name, &c.ClosingPrice)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctxTx, `DELETE FROM selected_stocks WHERE no = $1`, c.No); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return models.Candidate{}, false, fmt.Errorf("pg.PopCandidate: %w", err)
	}
	return c, ok, nil
}
