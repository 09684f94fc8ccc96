package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeBody struct {
	Status string
	Reason string
	Checks map[string]string
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) probeBody {
	t.Helper()
	var b probeBody
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			b.Status = s
			return err
		case "reason":
			s, err := d.Str()
			b.Reason = s
			return err
		case "checks":
			b.Checks = make(map[string]string)
			return d.Obj(func(d *jx.Decoder, name string) error {
				s, err := d.Str()
				b.Checks[name] = s
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return b
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func pollN(h *Health, n int) {
	for range n {
		for _, p := range h.probes {
			p.poll(context.Background())
		}
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		polls      int
		wantStatus int
		wantChecks map[string]string
	}{
		{name: "starts healthy", polls: 0, wantStatus: http.StatusOK},
		{name: "below threshold", polls: 2, wantStatus: http.StatusOK},
		{
			name:       "at threshold",
			polls:      3,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"db": "connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.Register(Check{Name: "db", Kind: Liveness, Func: failing("connection refused")})
			h.Register(Check{Name: "goroutines", Kind: Liveness, Func: passing()})
			pollN(h, tt.polls)

			w := httptest.NewRecorder()
			h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantChecks, decodeBody(t, w).Checks)
		})
	}
}

func TestReadyEndpoint_Gate(t *testing.T) {
	h := New()
	h.Register(Check{Name: "postgres", Kind: Readiness, Func: passing()})

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", decodeBody(t, w).Reason)

	h.SetReady(true)
	w = httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w).Status)
	assert.True(t, h.IsReady())
}

func TestReadyEndpoint_IgnoresLivenessFailures(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(Check{Name: "goroutines", Kind: Liveness, FailureThreshold: 1, Func: failing("too many")})
	pollN(h, 1)

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProbe_Recovers(t *testing.T) {
	fail := true
	h := New()
	h.SetReady(true)
	h.Register(Check{Name: "redis", Kind: Readiness, FailureThreshold: 1, Func: func(context.Context) error {
		if fail {
			return errors.New("timeout")
		}
		return nil
	}})

	pollN(h, 1)
	assert.False(t, h.IsReady())

	fail = false
	pollN(h, 1)
	assert.True(t, h.IsReady())
}

func TestProbe_Timeout(t *testing.T) {
	h := New()
	h.Register(Check{
		Name:             "slow",
		Kind:             Readiness,
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	h.SetReady(true)
	pollN(h, 1)

	assert.False(t, h.IsReady())
	assert.Equal(t, context.DeadlineExceeded.Error(), h.failures(Readiness)["slow"])
}

func TestStartStop(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(Check{Name: "db", Kind: Readiness, FailureThreshold: 1, Func: failing("down")})

	h.Start(context.Background(), 5*time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestGCPauseExceeded(t *testing.T) {
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	stats := &debug.GCStats{
		Pause:    []time.Duration{10 * time.Millisecond, 2 * time.Second},
		PauseEnd: []time.Time{base.Add(2 * time.Second), base.Add(time.Second)},
	}

	var since time.Time
	err := gcPauseExceeded(stats, &since, time.Second)
	require.ErrorContains(t, err, "exceeds threshold")
	assert.Equal(t, base.Add(2*time.Second), since)

	// The long pause was already reported.
	require.NoError(t, gcPauseExceeded(stats, &since, time.Second))

	stats.Pause = append([]time.Duration{3 * time.Second}, stats.Pause...)
	stats.PauseEnd = append([]time.Time{base.Add(3 * time.Second)}, stats.PauseEnd...)
	require.Error(t, gcPauseExceeded(stats, &since, time.Second))

	require.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
