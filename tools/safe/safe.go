package safe

import (
	"PPNotify/logger"
	"PPNotify/tools/errs"

	"go.uber.org/zap"
)

// Go starts f in a goroutine that survives a panic in f. The panic is logged
// with the given name.
func Go(name string, f func()) {
	go func() {
		defer Recover(name, nil)
		f()
	}()
}

// Run calls f and converts a panic into an error.
func Run(f func() error) (err error) {
	defer Recover("", func(perr error) { err = perr })
	return f()
}

// Recover must be deferred. It logs a recovered panic and, when onPanic is
// non-nil, hands it over as an errs.ErrPanic error.
func Recover(name string, onPanic func(error)) {
	r := recover()
	if r == nil {
		return
	}
	perr := errs.ErrPanic(r)
	logger.Error("[safe] panic recovered", zap.String("name", name), zap.Error(perr))
	if onPanic != nil {
		onPanic(perr)
	}
}
