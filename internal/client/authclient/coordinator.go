package authclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrReauthRequired возвращается, когда ротация невозможна и клиент обязан
// пройти полную аутентификацию заново.
var ErrReauthRequired = errors.New("authclient: требуется повторная аутентификация")

// RefreshFunc выполняет один вызов ротации на сервере и возвращает новую пару.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

// State — состояние координатора.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
)

// Coordinator сериализует ротацию токенов между конкурентными запросами.
// Первый запрос, заметивший протухший access токен, запускает ротацию;
// остальные ждут её результата вместо собственных вызовов. Ключ
// single-flight — протухший access токен, поэтому на один исходный отказ
// приходится ровно одна ротация.
type Coordinator struct {
	mu          sync.RWMutex
	access      string
	refresh     string
	reauthFired bool

	state    atomic.Int32
	group    singleflight.Group
	rotate   RefreshFunc
	timeout  time.Duration
	onReauth func(error)
}

// NewCoordinator создаёт координатор. onReauth вызывается не более одного
// раза на потерю сессии, сколько бы запросов ни ждало ротацию; nil допустим.
func NewCoordinator(rotate RefreshFunc, timeout time.Duration, onReauth func(error)) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		rotate:   rotate,
		timeout:  timeout,
		onReauth: onReauth,
	}
}

// SetTokens устанавливает пару после логина и снимает флаг потери сессии.
func (c *Coordinator) SetTokens(access, refresh string) {
	c.mu.Lock()
	c.access = access
	c.refresh = refresh
	c.reauthFired = false
	c.mu.Unlock()
}

// AccessToken возвращает текущий access токен.
func (c *Coordinator) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

// State возвращает текущее состояние координатора.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Refresh возвращает свежий access токен, запуская не более одной ротации
// на исходный отказ. staleAccess — токен, с которым запрос получил отказ.
// Отмена ctx освобождает ожидающего, но не прерывает саму ротацию:
// её результат достанется остальным ожидающим.
func (c *Coordinator) Refresh(ctx context.Context, staleAccess string) (string, error) {
	c.mu.RLock()
	current := c.access
	c.mu.RUnlock()

	// Кто-то уже успел ротировать: берём готовый результат.
	if current != "" && current != staleAccess {
		return current, nil
	}

	ch := c.group.DoChan(staleAccess, func() (interface{}, error) {
		return c.doRotate(staleAccess)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Coordinator) doRotate(staleAccess string) (string, error) {
	c.state.Store(int32(StateRefreshing))
	defer c.state.Store(int32(StateIdle))

	c.mu.RLock()
	current, refresh := c.access, c.refresh
	c.mu.RUnlock()

	// Повторная проверка под single-flight: опоздавший ожидающий не должен
	// запускать вторую ротацию после уже завершившейся.
	if current != "" && current != staleAccess {
		return current, nil
	}

	if refresh == "" {
		c.failSession(ErrReauthRequired)
		return "", ErrReauthRequired
	}

	// Ротация ограничена по времени: зависший вызов равносилен отказу.
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	access, newRefresh, err := c.rotate(ctx, refresh)
	if err != nil {
		c.failSession(err)
		return "", fmt.Errorf("authclient: ротация не удалась: %w", err)
	}

	c.mu.Lock()
	c.access = access
	c.refresh = newRefresh
	c.mu.Unlock()

	return access, nil
}

// failSession сбрасывает пару и уведомляет о потере сессии ровно один раз.
func (c *Coordinator) failSession(cause error) {
	c.mu.Lock()
	c.access = ""
	c.refresh = ""
	fire := !c.reauthFired
	c.reauthFired = true
	cb := c.onReauth
	c.mu.Unlock()

	if fire && cb != nil {
		cb(cause)
	}
}
