package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

// Conn is a single checked-out connection. Every unit of work runs in its own
// transaction on it through WithTx.
type Conn struct {
	raw  *sql.Conn
	db   *gorm.DB
	once sync.Once
	err  error
}

// openGorm builds the gorm handle over pool. The dialector and callbacks are
// set up here once per pool; checkouts only bind a session to their
// connection.
func openGorm(pool gorm.ConnPool) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: pool}), &gorm.Config{
		Logger:                 newGormLogger(),
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
}

// bind returns a Conn whose statements all run on raw.
func bind(orm *gorm.DB, raw *sql.Conn) *Conn {
	db := orm.Session(&gorm.Session{NewDB: true, Context: context.Background()})
	db.Statement.ConnPool = raw
	return &Conn{raw: raw, db: db}
}

// NewConn wraps a dedicated *sql.Conn outside of a Pool.
func NewConn(raw *sql.Conn) (*Conn, error) {
	orm, err := openGorm(raw)
	if err != nil {
		return nil, err
	}
	return bind(orm, raw), nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back when it returns an error or panics. Errors come back
// wrapped with weather.ErrPersistence.
func (c *Conn) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := c.db.WithContext(ctx).Transaction(fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, weather.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", weather.ErrPersistence, err)
}

func (c *Conn) close() error {
	c.once.Do(func() {
		c.err = c.raw.Close()
	})
	return c.err
}
