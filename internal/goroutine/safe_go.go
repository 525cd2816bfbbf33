package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/avdeevramil/market-backend/internal/logger"
)

// SafeGo запускает горутину с обработкой panic.
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log.Errorf("goroutine: panic перехвачен: %v\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic.
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log.Errorf("goroutine: panic перехвачен: %v\n%s", r, debug.Stack())
			}
		}()
		fn(ctx)
	}()
}
