// Package database owns PostgreSQL connectivity: the bounded connection pool
// used by the pipeline, the direct connection used by administrative commands,
// scoped transactions and schema migrations.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"gorm.io/gorm"

	"github.com/i474232898/heat-island-pipeline/internal/config"
	"github.com/i474232898/heat-island-pipeline/internal/log"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

const (
	// poolDriver is the database/sql driver backing the pool.
	poolDriver = "pgx"
	// maxConnLifetime recycles long lived connections.
	maxConnLifetime = 30 * time.Minute
	// maxConnIdleTime closes connections that have been idle too long.
	maxConnIdleTime = 10 * time.Minute
)

// Opener opens a *sql.DB for a driver name and DSN. sql.Open satisfies it.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Pool is a lazily constructed, bounded pool of PostgreSQL connections. It is
// safe for concurrent use; the first Acquire builds the underlying pool and
// every concurrent caller waits for and shares that single instance.
type Pool struct {
	cfg    config.DBConfig
	driver string
	open   Opener

	mu     sync.Mutex
	db     *sql.DB
	orm    *gorm.DB
	closed bool
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithOpener replaces sql.Open, mainly for tests.
func WithOpener(open Opener) PoolOption {
	return func(p *Pool) {
		p.open = open
	}
}

// NewPool returns an unopened pool. No connection is made until Acquire.
func NewPool(cfg config.DBConfig, opts ...PoolOption) *Pool {
	if cfg.MaxConns < 1 {
		cfg.MaxConns = 1
	}
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}

	p := &Pool{
		cfg:    cfg,
		driver: poolDriver,
		open:   sql.Open,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// init builds the underlying *sql.DB and its gorm handle exactly once.
func (p *Pool) init(ctx context.Context) (*sql.DB, *gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, fmt.Errorf("%w: pool is closed", weather.ErrConnection)
	}
	if p.db != nil {
		return p.db, p.orm, nil
	}

	log.Infof("initializing connection pool for %s:%s (min=%d max=%d)",
		p.cfg.Host, p.cfg.Port, p.cfg.MinConns, p.cfg.MaxConns)

	db, err := p.open(p.driver, p.cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening connection pool for %s:%s: %v",
			weather.ErrConfiguration, p.cfg.Host, p.cfg.Port, err)
	}

	db.SetMaxOpenConns(p.cfg.MaxConns)
	db.SetMaxIdleConns(p.cfg.MaxConns)
	db.SetConnMaxLifetime(maxConnLifetime)
	db.SetConnMaxIdleTime(maxConnIdleTime)

	if err := warm(ctx, db, p.cfg.MinConns); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: connecting to %s:%s: %v",
			weather.ErrConfiguration, p.cfg.Host, p.cfg.Port, err)
	}

	orm, err := openGorm(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: %v", weather.ErrConfiguration, err)
	}

	p.db, p.orm = db, orm
	return db, orm, nil
}

// warm opens and pings n connections so the pool starts with them idle.
// With n == 0 a single ping still validates the target.
func warm(ctx context.Context, db *sql.DB, n int) error {
	if n == 0 {
		return db.PingContext(ctx)
	}

	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for i := 0; i < n; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, c)
		if err := c.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Acquire checks a connection out of the pool. It waits at most the
// configured acquire timeout; when every connection stays in use for that long
// the error wraps weather.ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	db, orm, err := p.init(ctx)
	if err != nil {
		return nil, err
	}

	actx := ctx
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	raw, err := db.Conn(actx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && db.Stats().InUse >= p.cfg.MaxConns {
			return nil, fmt.Errorf("%w: %d of %d connections still in use after %s",
				weather.ErrPoolExhausted, db.Stats().InUse, p.cfg.MaxConns, p.cfg.AcquireTimeout)
		}
		return nil, fmt.Errorf("%w: %v", weather.ErrConnection, err)
	}

	return bind(orm, raw), nil
}

// Release returns a connection to the pool. It is safe to call with nil and
// more than once.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	if err := c.close(); err != nil {
		log.Warnf("returning connection to pool: %v", err)
	}
}

// Stats reports pool usage. The zero value is returned before the pool is
// built.
func (p *Pool) Stats() sql.DBStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}

// Close closes the underlying pool. Later Acquire calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db, p.orm = nil, nil
	return err
}
