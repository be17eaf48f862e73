package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-weather/config"
	"github.com/saiset-co/sai-weather/logger"
	"github.com/saiset-co/sai-weather/types"
	"github.com/saiset-co/sai-weather/utils"
)

type staticConfig struct{ cfg *types.ServiceConfig }

func (s staticConfig) Load() error                     { return nil }
func (s staticConfig) GetConfig() *types.ServiceConfig { return s.cfg }

type stubFetcher struct {
	calls   atomic.Int32
	payload types.Payload
	err     error
}

func (f *stubFetcher) Fetch(_ context.Context, subject string) (types.Payload, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.payload != nil {
		return f.payload, nil
	}
	return types.Payload(fmt.Sprintf(`{"location":{"name":%q},"current":{"temp_c":21.5}}`, subject)), nil
}

func testConfig() *types.ServiceConfig {
	cfg := config.NewLoader().Defaults()
	cfg.Server.HTTP.Host = "127.0.0.1"
	cfg.Server.HTTP.Port = 0
	cfg.Server.HTTP.ShutdownTimeout = 2
	cfg.Store.Type = "memory"
	cfg.Metrics.Enabled = true
	cfg.Refresh.Beta = 0
	return cfg
}

func startService(t *testing.T, cfg *types.ServiceConfig, fetcher types.UpstreamFetcher) *Service {
	t.Helper()

	svc, err := New(context.Background(), staticConfig{cfg: cfg}, WithFetcher(fetcher), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run() }()

	require.Eventually(t, svc.IsRunning, 5*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		_ = svc.Stop()
		select {
		case err := <-runErr:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("service did not stop")
		}
	})

	return svc
}

func get(t *testing.T, svc *Service, path string) (int, []byte) {
	t.Helper()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://" + svc.Addr() + path)

	require.NoError(t, fasthttp.DoTimeout(req, resp, 5*time.Second))

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	return resp.StatusCode(), body
}

func TestWeatherMissThenHit(t *testing.T) {
	fetcher := &stubFetcher{}
	svc := startService(t, testConfig(), fetcher)

	for i := 0; i < 2; i++ {
		status, body := get(t, svc, "/weather?city=Paris")
		require.Equal(t, fasthttp.StatusOK, status)

		var resp struct {
			Data struct {
				Location struct {
					Name string `json:"name"`
				} `json:"location"`
			} `json:"data"`
		}
		require.NoError(t, utils.Unmarshal(body, &resp))
		assert.Equal(t, "Paris", resp.Data.Location.Name)
	}

	assert.Equal(t, int32(1), fetcher.calls.Load())

	status, body := get(t, svc, "/counters")
	require.Equal(t, fasthttp.StatusOK, status)

	var counters countersResponse
	require.NoError(t, utils.Unmarshal(body, &counters))
	assert.Equal(t, countersResponse{
		ExternalAPIRequestCounter: 1,
		TotalAPIRequestCounter:    2,
		TotalRequests:             2,
		ExternalFetches:           1,
	}, counters)
}

func TestWeatherMissingCity(t *testing.T) {
	fetcher := &stubFetcher{}
	svc := startService(t, testConfig(), fetcher)

	status, _ := get(t, svc, "/weather")
	assert.Equal(t, fasthttp.StatusBadRequest, status)
	assert.Zero(t, fetcher.calls.Load())

	counters := svc.Accessor().Counters()
	assert.Equal(t, uint64(1), counters.TotalRequests)
	assert.Zero(t, counters.ExternalFetches)
}

func TestWeatherUpstreamFailure(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("connection refused")}
	svc := startService(t, testConfig(), fetcher)

	status, body := get(t, svc, "/weather?city=Oslo")
	require.Equal(t, fasthttp.StatusBadGateway, status)

	var resp utils.ErrorResponse
	require.NoError(t, utils.Unmarshal(body, &resp))
	assert.Contains(t, resp.Message, types.ErrFetchFailed.Error())
	assert.Contains(t, resp.Message, "connection refused")

	counters := svc.Accessor().Counters()
	assert.Equal(t, uint64(1), counters.TotalRequests)
	assert.Equal(t, uint64(1), counters.ExternalFetches)
}

func TestWeatherNonJSONPayload(t *testing.T) {
	fetcher := &stubFetcher{payload: types.Payload("plain text")}
	svc := startService(t, testConfig(), fetcher)

	status, body := get(t, svc, "/weather?city=Rome")
	require.Equal(t, fasthttp.StatusOK, status)
	assert.JSONEq(t, `{"data":"plain text"}`, string(body))
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	svc := startService(t, testConfig(), &stubFetcher{})

	status, body := get(t, svc, "/health")
	require.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, string(body), `"store"`)
	assert.Contains(t, string(body), `"upstream"`)

	get(t, svc, "/weather?city=Lima")
	svc.reportCounters(context.Background())

	status, body = get(t, svc, "/metrics")
	require.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, string(body), "readthrough_counter_total_requests 1")
	assert.Contains(t, string(body), "readthrough_counter_external_fetches 1")
	assert.Contains(t, string(body), "readthrough_requests_total")
}

func TestUnknownRoute(t *testing.T) {
	svc := startService(t, testConfig(), &stubFetcher{})

	status, _ := get(t, svc, "/forecast")
	assert.Equal(t, fasthttp.StatusNotFound, status)
}

func TestCronReportJobScheduled(t *testing.T) {
	cfg := testConfig()
	cfg.Cron.Enabled = true
	cfg.Cron.ReportSpec = "@every 1h"

	svc := startService(t, cfg, &stubFetcher{})

	jobs := svc.cron.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, reportJobName, jobs[0].Name)
	assert.True(t, svc.cron.IsRunning())
}

func TestNewRejectsInvalidCronSpec(t *testing.T) {
	cfg := testConfig()
	cfg.Cron.Enabled = true
	cfg.Cron.ReportSpec = "whenever"

	_, err := New(context.Background(), staticConfig{cfg: cfg}, WithFetcher(&stubFetcher{}), WithLogger(logger.NewNop()))
	require.ErrorIs(t, err, types.ErrCronExpressionInvalid)
}

func TestRunTwiceAndStopWhenStopped(t *testing.T) {
	svc, err := New(context.Background(), staticConfig{cfg: testConfig()}, WithFetcher(&stubFetcher{}), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	require.ErrorIs(t, svc.Stop(), types.ErrServiceIsNotRunning)

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run() }()
	require.Eventually(t, svc.IsRunning, 5*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, svc.Run(), types.ErrServiceIsRunning)

	require.NoError(t, svc.Stop())
	require.NoError(t, <-runErr)
	assert.False(t, svc.IsRunning())

	select {
	case <-svc.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestStartFailureRollsBack(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig()
	cfg.Server.HTTP.Port = taken.Addr().(*net.TCPAddr).Port

	svc, err := New(context.Background(), staticConfig{cfg: cfg}, WithFetcher(&stubFetcher{}), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	err = svc.Run()
	require.ErrorIs(t, err, types.ErrComponentStartFailed)
	assert.False(t, svc.IsRunning())
	assert.False(t, svc.store.IsRunning())
}

func TestNewServiceMissingConfig(t *testing.T) {
	_, err := NewService(context.Background(), "/nonexistent/config.yml")
	require.Error(t, err)
}
