package sqlgateway

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/denismitr/evolve/internal/retry"
)

const (
	DefaultConnectionAttempts    = 100
	DefaultConnectionTimeout     = 60 * time.Second
	DefaultConnectionAttemptStep = 2 * time.Second
)

type ConnectOptions struct {
	MaxAttempts int
	MaxTimeout  time.Duration
	RetryStep   time.Duration
}

func NewDefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		MaxAttempts: DefaultConnectionAttempts,
		MaxTimeout:  DefaultConnectionTimeout,
		RetryStep:   DefaultConnectionAttemptStep,
	}
}

// SQLConnector hands out one connection per apply cycle. The caller closes it.
type SQLConnector interface {
	Connect(ctx context.Context) (*sqlx.Conn, error)
	Close() error
}

type RetryingConnector struct {
	options *ConnectOptions
	db      *sqlx.DB
}

var _ SQLConnector = (*RetryingConnector)(nil)

func MakeRetryingConnector(db *sqlx.DB, options *ConnectOptions) *RetryingConnector {
	if options == nil {
		options = NewDefaultConnectOptions()
	}

	return &RetryingConnector{db: db, options: options}
}

func (c *RetryingConnector) Connect(ctx context.Context) (*sqlx.Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, c.options.MaxTimeout)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts: c.options.MaxAttempts,
		Backoff:     retry.Linear{Step: c.options.RetryStep, Max: c.options.MaxTimeout},
	}

	var conn *sqlx.Conn
	err := retry.Do(connectCtx, policy, func(attempt int) error {
		candidate, err := c.db.Connx(connectCtx)
		if err != nil {
			return retry.Transient(errors.Wrap(err, "could not establish DB connection"), attempt)
		}

		if err := ping(connectCtx, candidate); err != nil {
			_ = candidate.Close()
			return retry.Transient(err, attempt)
		}

		conn = candidate
		return nil
	})

	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Close releases the underlying connection pool.
func (c *RetryingConnector) Close() error {
	if err := c.db.Close(); err != nil {
		return errors.Wrap(err, "retrying connector could not close the database")
	}

	return nil
}

// ping makes sure the checked out connection answers queries, not only
// that the pool handed something out.
func ping(ctx context.Context, conn *sqlx.Conn) error {
	if err := conn.PingContext(ctx); err != nil {
		return errors.Wrap(err, "db ping failed")
	}

	var one int
	if err := conn.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return errors.Wrap(err, "could not query the connection")
	}

	return nil
}
