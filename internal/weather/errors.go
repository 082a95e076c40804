package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is fatal and raised before any run starts.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnection means no database connection could be obtained.
	ErrConnection = errors.New("database connection error")

	// ErrPoolExhausted means every pooled connection stayed checked out for
	// the whole acquire timeout. It also matches ErrConnection.
	ErrPoolExhausted = fmt.Errorf("%w: connection pool exhausted", ErrConnection)

	// ErrFetch covers network, timeout and response shape failures of the
	// weather archive.
	ErrFetch = errors.New("weather fetch error")

	// ErrPersistence covers constraint violations, partition creation and
	// transaction failures.
	ErrPersistence = errors.New("persistence error")
)
