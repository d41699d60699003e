package util

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Recovered reports whether r, the result of a recover() call, carries a
// panic. A panic is logged against unit together with the current stack, so
// the caller only decides what to count or skip:
//
//	defer func() {
//		if util.Recovered("observable "+id, recover(), logger) {
//			skipped++
//		}
//	}()
//
// Without a logger the panic is written to stderr.
func Recovered(unit string, r any, logger *zap.SugaredLogger) bool {
	if r == nil {
		return false
	}
	if logger == nil {
		fmt.Fprintf(os.Stderr, "%s: renderer panic: %v\n", unit, r)
		return true
	}
	logger.Errorw("Renderer panicked, output skipped",
		"unit", unit,
		"panic", r,
		zap.Stack("stack"))
	return true
}
