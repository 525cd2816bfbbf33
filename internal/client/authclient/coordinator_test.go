package authclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoordinator_SingleFlight(t *testing.T) {
	var rotations atomic.Int32
	rotate := func(ctx context.Context, refresh string) (string, string, error) {
		rotations.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "access-2", "refresh-2", nil
	}

	coord := NewCoordinator(rotate, time.Second, nil)
	coord.SetTokens("access-1", "refresh-1")

	const waiters = 16
	var wg sync.WaitGroup
	results := make([]string, waiters)
	errs := make([]error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coord.Refresh(context.Background(), "access-1")
		}(i)
	}
	wg.Wait()

	if got := rotations.Load(); got != 1 {
		t.Fatalf("ожидалась одна ротация, получили %d", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("ожидающий %d получил ошибку: %v", i, errs[i])
		}
		if results[i] != "access-2" {
			t.Fatalf("ожидающий %d получил %q", i, results[i])
		}
	}
	if coord.State() != StateIdle {
		t.Fatalf("после ротации координатор должен вернуться в IDLE")
	}
}

func TestCoordinator_AlreadyRefreshed(t *testing.T) {
	rotate := func(ctx context.Context, refresh string) (string, string, error) {
		t.Fatalf("ротация не должна запускаться")
		return "", "", nil
	}

	coord := NewCoordinator(rotate, time.Second, nil)
	coord.SetTokens("access-2", "refresh-2")

	// Запрос с уже устаревшим токеном берёт готовый результат.
	got, err := coord.Refresh(context.Background(), "access-1")
	if err != nil {
		t.Fatalf("refresh вернул ошибку: %v", err)
	}
	if got != "access-2" {
		t.Fatalf("ожидался текущий токен, получили %q", got)
	}
}

func TestCoordinator_HardFailureFiresReauthOnce(t *testing.T) {
	var reauths atomic.Int32
	rotate := func(ctx context.Context, refresh string) (string, string, error) {
		time.Sleep(10 * time.Millisecond)
		return "", "", errors.New("REUSE_DETECTED")
	}

	coord := NewCoordinator(rotate, time.Second, func(error) {
		reauths.Add(1)
	})
	coord.SetTokens("access-1", "refresh-1")

	const waiters = 8
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Refresh(context.Background(), "access-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if errs[i] == nil {
			t.Fatalf("все ожидающие должны получить отказ")
		}
	}
	if got := reauths.Load(); got != 1 {
		t.Fatalf("повторная аутентификация должна запрашиваться один раз, получили %d", got)
	}
	if coord.AccessToken() != "" {
		t.Fatalf("после провала ротации пара должна быть сброшена")
	}
}

func TestCoordinator_NoRefreshToken(t *testing.T) {
	coord := NewCoordinator(func(ctx context.Context, refresh string) (string, string, error) {
		t.Fatalf("ротация без refresh токена не должна запускаться")
		return "", "", nil
	}, time.Second, nil)

	_, err := coord.Refresh(context.Background(), "stale")
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("ожидался ErrReauthRequired, получили %v", err)
	}
}

func TestCoordinator_Timeout(t *testing.T) {
	rotate := func(ctx context.Context, refresh string) (string, string, error) {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(time.Second):
			return "access-2", "refresh-2", nil
		}
	}

	coord := NewCoordinator(rotate, 20*time.Millisecond, nil)
	coord.SetTokens("access-1", "refresh-1")

	// Зависшая ротация приравнивается к отказу.
	_, err := coord.Refresh(context.Background(), "access-1")
	if err == nil {
		t.Fatalf("зависшая ротация должна завершаться ошибкой")
	}
	if coord.AccessToken() != "" {
		t.Fatalf("после таймаута пара должна быть сброшена")
	}
}

func TestCoordinator_WaiterContextCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rotate := func(ctx context.Context, refresh string) (string, string, error) {
		close(started)
		<-release
		return "access-2", "refresh-2", nil
	}

	coord := NewCoordinator(rotate, time.Second, nil)
	coord.SetTokens("access-1", "refresh-1")

	first := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(context.Background(), "access-1")
		first <- err
	}()
	<-started

	// Отменённый ожидающий уходит, не прерывая ротацию.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := coord.Refresh(ctx, "access-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидалась отмена контекста, получили %v", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("первый ожидающий должен получить результат: %v", err)
	}
	if coord.AccessToken() != "access-2" {
		t.Fatalf("результат ротации должен сохраниться")
	}
}

func TestCoordinator_SetTokensResetsFailure(t *testing.T) {
	var reauths atomic.Int32
	failing := true
	rotate := func(ctx context.Context, refresh string) (string, string, error) {
		if failing {
			return "", "", fmt.Errorf("отказ сервера")
		}
		return "access-3", "refresh-3", nil
	}

	coord := NewCoordinator(rotate, time.Second, func(error) { reauths.Add(1) })
	coord.SetTokens("access-1", "refresh-1")

	if _, err := coord.Refresh(context.Background(), "access-1"); err == nil {
		t.Fatalf("первая ротация должна провалиться")
	}

	// Новый логин открывает новую сессию, и её потеря снова уведомляется.
	failing = false
	coord.SetTokens("access-2", "refresh-2")
	got, err := coord.Refresh(context.Background(), "access-2")
	if err != nil {
		t.Fatalf("ротация после нового логина вернула ошибку: %v", err)
	}
	if got != "access-3" {
		t.Fatalf("ожидался access-3, получили %q", got)
	}
	if reauths.Load() != 1 {
		t.Fatalf("уведомление должно было прийти один раз, получили %d", reauths.Load())
	}
}
