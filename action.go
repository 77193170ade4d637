package evolve

type ActionConfigurator func(a *Action)

// Action narrows one UpdateDatabase or Script call.
type Action struct {
	steps      int
	atomic     bool
	idempotent bool
}

func newAction(cfs []ActionConfigurator) *Action {
	a := new(Action)
	for _, f := range cfs {
		f(a)
	}

	return a
}

// WithSteps limits the call to the first n pending migrations.
func WithSteps(steps int) ActionConfigurator {
	return func(a *Action) {
		a.steps = steps
	}
}

// InSingleTransaction applies every pending migration and its history row in
// one transaction, so a failure leaves nothing committed. MySQL commits DDL
// implicitly and cannot honor it.
func InSingleTransaction() ActionConfigurator {
	return func(a *Action) {
		a.atomic = true
	}
}

// Idempotent makes Script guard every statement against the target state,
// history rows included, so the script can run again. Dialects without
// conditional execution, SQLite among them, fail with ErrUnsupportedOperation
// on statements that need a guard query.
func Idempotent() ActionConfigurator {
	return func(a *Action) {
		a.idempotent = true
	}
}

func CreateConfigurators(steps int, atomic, idempotent bool) []ActionConfigurator {
	var configurators []ActionConfigurator
	if steps > 0 {
		configurators = append(configurators, WithSteps(steps))
	}

	if atomic {
		configurators = append(configurators, InSingleTransaction())
	}

	if idempotent {
		configurators = append(configurators, Idempotent())
	}

	return configurators
}
