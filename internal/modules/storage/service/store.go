package service

import (
	"context"
	"kis_trader/internal/models"
	"time"
)

// SessionStore persists trading sessions. Load returns exception.ErrNotFound for a missing id.
type SessionStore interface {
	Save(ctx context.Context, s models.Session) error
	Load(ctx context.Context, id int64) (models.Session, error)
	List(ctx context.Context) ([]models.Session, error)
	Delete(ctx context.Context, id int64) error
}

// CredentialStore caches access tokens and approval keys across restarts.
type CredentialStore interface {
	GetCredential(ctx context.Context, kind string) (models.Credential, error)
	SaveCredential(ctx context.Context, c models.Credential) error
}

// StockStore holds upper-limit history and the FIFO candidate queue.
type StockStore interface {
	SaveUpperLimit(ctx context.Context, date time.Time, stocks []models.UpperLimitStock) error
	UpperLimitOn(ctx context.Context, date time.Time) ([]models.UpperLimitStock, error)
	PurgeUpperLimitBefore(ctx context.Context, date time.Time) (int64, error)

	ReplaceCandidates(ctx context.Context, cands []models.Candidate) error
	// PopCandidate removes and returns the oldest candidate; ok is false when the queue is empty.
	PopCandidate(ctx context.Context) (c models.Candidate, ok bool, err error)
}

// Store is everything the trader persists.
type Store interface {
	SessionStore
	CredentialStore
	StockStore
	Close() error
}
