package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2,
		LinearStep: time.Millisecond,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"rate limit", &StatusError{StatusCode: 429}, ClassAPI},
		{"server error", &StatusError{StatusCode: 503}, ClassAPI},
		{"auth failure", &StatusError{StatusCode: 401}, ClassPermanent},
		{"bad request", &StatusError{StatusCode: 400}, ClassPermanent},
		{"wrapped status", errors.Join(errors.New("embed"), &StatusError{StatusCode: 500}), ClassAPI},
		{"timeout", context.DeadlineExceeded, ClassNetwork},
		{"cancelled", context.Canceled, ClassPermanent},
		{"dial error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, ClassNetwork},
		{"dns error", &net.DNSError{Err: "no such host", Name: "example.invalid"}, ClassNetwork},
		{"permanent wrapper", Permanent(&StatusError{StatusCode: 503}), ClassPermanent},
		{"unknown", errors.New("malformed response"), ClassAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestDelay(t *testing.T) {
	cfg := Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2,
		LinearStep: 50 * time.Millisecond,
	}

	assert.Equal(t, 100*time.Millisecond, cfg.Delay(ClassNetwork, 0))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(ClassNetwork, 1))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(ClassNetwork, 2))
	assert.Equal(t, time.Second, cfg.Delay(ClassNetwork, 10))

	assert.Equal(t, 50*time.Millisecond, cfg.Delay(ClassAPI, 0))
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(ClassAPI, 1))
	assert.Equal(t, 150*time.Millisecond, cfg.Delay(ClassAPI, 2))

	assert.Zero(t, cfg.Delay(ClassPermanent, 0))
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{StatusCode: 429}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 0, &StatusError{StatusCode: 401, Body: "invalid key"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 401, status.StatusCode)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	var classes []Class
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, class Class, delay time.Duration, err error) {
		classes = append(classes, class)
	}

	_, err := Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	})

	require.Error(t, err)
	assert.Equal(t, cfg.MaxRetries+1, calls)
	assert.Equal(t, []Class{ClassNetwork, ClassNetwork, ClassNetwork}, classes)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, fastConfig(), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
