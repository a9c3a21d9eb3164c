package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo(t *testing.T) {
	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(3), func(context.Context) error {
			calls++
			return nil
		})
		if err != nil || calls != 1 {
			t.Fatalf("expected one successful call, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(4), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("expected success on third call, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("down")
		err := Do(context.Background(), fastConfig(3), func(context.Context) error {
			calls++
			return sentinel
		})
		if !errors.Is(err, sentinel) || calls != 3 {
			t.Fatalf("expected 3 failed calls, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("permanent error short-circuits", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(5), func(context.Context) error {
			calls++
			return Permanent(errors.New("bad request"))
		})
		if calls != 1 {
			t.Fatalf("expected single call for permanent error, got %d", calls)
		}
		if !IsPermanent(err) {
			t.Errorf("expected permanent error, got %v", err)
		}
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, func(context.Context) error {
			calls++
			cancel()
			return errors.New("transient")
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call before cancellation, got %d", calls)
		}
	})
}
