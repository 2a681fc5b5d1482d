package observe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"listing-bot/pkg/observe"
)

func Test(t *testing.T) {
	mock := mock.Mock{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		mock.MethodCalled("handler", r.URL.Path)
	}))
	defer server.Close()

	mock.On("handler", "/v1/traces").Once()

	t.Setenv("OTEL_BSP_SCHEDULE_DELAY", "10") // 10ms for batch span processor

	observeOpts := observe.Options().
		WithService("listing-bot", "namespace-test").
		EnableTraceProvider(strings.TrimPrefix(server.URL, "http://"), true).
		EnableMeterProvider()

	otelShutdown, err := observe.SetupOTelSDK(context.TODO(), observeOpts)
	require.NoError(t, err)
	defer otelShutdown(context.Background())

	_, span := otel.Tracer("t-tracer").Start(context.Background(), "span-name")
	span.End()

	counter, err := otel.Meter("t-meter").Int64Counter("test_events_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	time.Sleep(200 * time.Millisecond)

	if !mock.AssertExpectations(t) {
		t.Error("it should send spans to the http endpoint")
	}

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "test_events_total")
}
