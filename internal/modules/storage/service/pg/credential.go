package pg

import (
	"context"
	"errors"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/pkg/exception"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetCredential(ctx context.Context, kind string) (models.Credential, error) {
	c := models.Credential{Kind: kind}
	err := s.db.Conn().QueryRow(ctx,
		`SELECT key, expires_at FROM credentials WHERE kind = $1`, kind,
	).Scan(&c.Key, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Credential{}, exception.ErrNotFound
	}
	if err != nil {
		return models.Credential{}, fmt.Errorf("pg.GetCredential %s: %w", kind, err)
	}
	return c, nil
}

func (s *Store) SaveCredential(ctx context.Context, c models.Credential) error {
	err := s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO credentials (kind, key, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (kind) DO UPDATE SET key = EXCLUDED.key, expires_at = EXCLUDED.expires_at`,
			c.Kind, c.Key, c.ExpiresAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("pg.SaveCredential %s: %w", c.Kind, err)
	}
	return nil
}
