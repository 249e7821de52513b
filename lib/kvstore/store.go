// Package kvstore is a durable key to string store backed by sqlite.
//
// Writes are staged in memory and only hit the database on Push, which
// mirrors the persistent-cache contract of the plugin host: the cache
// is mutated freely and flushed explicitly after each mutation that
// must survive a restart.
package kvstore

import (
	"context"
	"database/sql"
	"galaclient-backend/lib/kvstore/db"

	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	qry    *db.Queries
	staged map[string]string
}

func NewStore(database *sql.DB) *Store {
	return &Store{
		db:     database,
		qry:    db.New(database),
		staged: map[string]string{},
	}
}

// Get reads a value, preferring a staged write over the persisted row.
// The second return value reports whether the key exists at all.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok := s.staged[key]
	if ok {
		return value, true, nil
	}

	value, err := s.qry.GetValue(ctx, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	s.staged[key] = value
	return nil
}

// Push commits all staged writes in one transaction.
func (s *Store) Push(ctx context.Context) error {
	if len(s.staged) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	for key, value := range s.staged {
		err := txqry.SetValue(ctx, db.SetValueParams{
			Key:   key,
			Value: value,
		})
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	s.staged = map[string]string{}
	return nil
}
