package sqlgateway

import (
	"context"

	"github.com/pkg/errors"

	"github.com/denismitr/evolve/internal/database"
	"github.com/denismitr/evolve/internal/logger"
)

// statementExecutor runs statements in order, evaluating each existence guard
// on the same executor right before its statement.
type statementExecutor struct {
	lg logger.Logger
}

func (e statementExecutor) execute(ctx context.Context, ex database.Executor, statements []database.Statement) error {
	for _, s := range statements {
		if s.SkipIf != "" {
			var found int
			if err := ex.GetContext(ctx, &found, s.SkipIf); err != nil {
				return errors.Wrapf(err, "could not evaluate guard [%s]", s.SkipIf)
			}

			if found > 0 {
				e.lg.Debugf("already in place, skipping [%s]", s.SQL)
				continue
			}
		}

		e.lg.SQL(s.SQL, s.Args...)

		if _, err := ex.ExecContext(ctx, s.SQL, s.Args...); err != nil {
			return errors.Wrapf(err, "could not execute [%s]", s.SQL)
		}
	}

	return nil
}
