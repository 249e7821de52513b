package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

func (q *Queries) GetValue(ctx context.Context, key string) (string, error) {
	row := q.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key)
	var value string
	err := row.Scan(&value)
	return value, err
}

type SetValueParams struct {
	Key   string
	Value string
}

func (q *Queries) SetValue(ctx context.Context, params SetValueParams) error {
	_, err := q.db.ExecContext(
		ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		params.Key, params.Value,
	)
	return err
}
