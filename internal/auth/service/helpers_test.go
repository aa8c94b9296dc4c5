package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/service"
	"github.com/aussiebroadwan/tokend/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const (
	exampleIssuer   = "auth.example"
	exampleAudience = "api.example"
	keyGrace        = 8 * 24 * time.Hour
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *testClock
	keys     *jwtx.KeyStore
	db       *sqlite.Store
	sessions *service.SessionManager
	reader   *sdkmetric.ManualReader
	metrics  *service.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newTestClock()
	kp, _, err := jwtx.GenerateKeyPair(jwtx.ES256, 0, clock.Now(), clock.Now().Add(90*24*time.Hour))
	require.NoError(t, err)
	keys, err := jwtx.NewKeyStore(jwtx.ES256, kp, nil,
		jwtx.WithKeyClock(clock.Now), jwtx.WithRetireGrace(keyGrace))
	require.NoError(t, err)

	db, err := sqlite.NewStore(filepath.Join(t.TempDir(), "tokend.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := service.NewMetrics(provider.Meter(service.MeterName))
	require.NoError(t, err)

	sessions := service.NewSessionManager(keys, db.RefreshTokens(), service.SessionConfig{
		Issuer:     exampleIssuer,
		Audience:   []string{exampleAudience},
		AccessTTL:  10 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, service.WithClock(clock.Now), service.WithMetrics(metrics))

	return &fixture{
		clock:    clock,
		keys:     keys,
		db:       db,
		sessions: sessions,
		reader:   reader,
		metrics:  metrics,
	}
}

func testContext() context.Context {
	return slogx.WithContext(context.Background(), slogx.Discard())
}

// counter sums the data points of a cumulative int64 counter whose
// attributes equal attrs.
func (f *fixture) counter(t *testing.T, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))

	want := attribute.NewSet(attrs...)
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					total += dp.Value
				}
			}
		}
	}
	return total
}
