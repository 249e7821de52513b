package globals

import (
	"context"

	"galaclient-backend/services/galaxy"
)

const key = "galaclient-cli.ctx"

type Value struct {
	Service *galaxy.Service
	// where the CLI persists the session-of-record between runs
	CookieFile string
}

func Set(ctx context.Context, value *Value) context.Context {
	return context.WithValue(ctx, key, value)
}

func Get(ctx context.Context) *Value {
	return ctx.Value(key).(*Value)
}
