package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Action именует операцию, отправка которой лимитируется.
// Счётчики независимы для каждой пары (identity, action).
type Action string

const (
	ActionResendCode    Action = "resend_code"
	ActionSendTwoFactor Action = "send_2fa"
	ActionPasswordReset Action = "password_reset"
	ActionLogin         Action = "login"
)

// Result описывает исход проверки лимита.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter ограничивает частоту операций по ключу (identity, action).
// Инкремент и проверка выполняются одним атомарным шагом хранилища,
// поэтому конкурентные запросы по одному ключу не обходят порог.
type Limiter struct {
	limiters map[Action]*limiter.Limiter
}

// New создаёт лимитер с общим хранилищем и порогом rate на каждое действие.
func New(store limiter.Store, rates map[Action]limiter.Rate) *Limiter {
	limiters := make(map[Action]*limiter.Limiter, len(rates))
	for action, rate := range rates {
		limiters[action] = limiter.New(store, rate)
	}
	return &Limiter{limiters: limiters}
}

// NewMemoryStore создаёт хранилище счётчиков в памяти процесса.
func NewMemoryStore() limiter.Store {
	return memory.NewStore()
}

// NewRedisStore создаёт общее для всех инстансов хранилище счётчиков.
func NewRedisStore(client *redis.Client) (limiter.Store, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: "ratelimit",
	})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: не удалось создать redis хранилище: %w", err)
	}
	return store, nil
}

// DefaultRates возвращает пороги по умолчанию: limit запросов за period для
// отправки кодов, loginLimit за loginPeriod для попыток входа.
func DefaultRates(limit int64, period time.Duration, loginLimit int64, loginPeriod time.Duration) map[Action]limiter.Rate {
	dispatch := limiter.Rate{Limit: limit, Period: period}
	return map[Action]limiter.Rate{
		ActionResendCode:    dispatch,
		ActionSendTwoFactor: dispatch,
		ActionPasswordReset: dispatch,
		ActionLogin:         {Limit: loginLimit, Period: loginPeriod},
	}
}

// Allow инкрементирует счётчик и сообщает, разрешена ли операция.
func (l *Limiter) Allow(ctx context.Context, identity string, action Action) (Result, error) {
	lim, ok := l.limiters[action]
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: неизвестное действие %q", action)
	}

	lctx, err := lim.Get(ctx, string(action)+":"+identity)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: не удалось получить счётчик: %w", err)
	}

	res := Result{
		Allowed:   !lctx.Reached,
		Remaining: lctx.Remaining,
	}
	if lctx.Reached {
		res.RetryAfter = time.Until(time.Unix(lctx.Reset, 0))
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res, nil
}
