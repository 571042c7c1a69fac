package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrNoGateway = errors.New("db: gateway not initialised")

// Gateway owns the connection pool. Components receive it at construction time
// and borrow connections per unit of work instead of sharing a package-level handle.
type Gateway struct {
	db *gorm.DB
}

func NewGateway(gdb *gorm.DB) *Gateway {
	return &Gateway{db: gdb}
}

// DB returns a pooled handle bound to ctx, for one-off reads.
func (g *Gateway) DB(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx)
}

// Scoped checks one connection out of the pool, runs fn on it and returns the
// connection when fn returns. Every statement fn issues through conn goes over
// that same connection.
func (g *Gateway) Scoped(ctx context.Context, fn func(conn *gorm.DB) error) error {
	if g == nil || g.db == nil {
		return ErrNoGateway
	}
	return g.db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		return fn(tx.Session(&gorm.Session{NewDB: true}))
	})
}

func (g *Gateway) Ping(ctx context.Context) error {
	if g == nil || g.db == nil {
		return ErrNoGateway
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (g *Gateway) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
