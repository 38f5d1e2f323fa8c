package pg

import (
	"kis_trader/internal/modules/storage/service"
	"kis_trader/pkg/db"
)

var _ service.Store = (*Store)(nil)

// Store is the postgres backend. All writes go through RunMaster.
type Store struct {
	db *db.PgTxManager
}

func New(tx *db.PgTxManager) *Store {
	return &Store{db: tx}
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}
