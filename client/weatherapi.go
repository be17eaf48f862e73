package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
)

const (
	DefaultBaseURL      = "http://api.weatherapi.com"
	DefaultTimeout      = 5 * time.Second
	currentWeatherPath  = "/v1/current.json"
	maxErrorBodyLogSize = 256
)

// WeatherClient fetches current conditions from weatherapi.com. Each Fetch is
// a single attempt.
type WeatherClient struct {
	logger   types.Logger
	config   *types.UpstreamConfig
	client   *fasthttp.Client
	breaker  *CircuitBreaker
	endpoint string
}

func NewWeatherClient(logger types.Logger, config *types.UpstreamConfig) (*WeatherClient, error) {
	upstreamConfig := &types.UpstreamConfig{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}

	if config != nil {
		if config.BaseURL != "" {
			upstreamConfig.BaseURL = config.BaseURL
		}
		if config.Timeout > 0 {
			upstreamConfig.Timeout = config.Timeout
		}
		upstreamConfig.APIKey = config.APIKey
		upstreamConfig.CircuitBreaker = config.CircuitBreaker
	}

	if upstreamConfig.APIKey == "" {
		logger.Warn("Upstream API key is empty, requests will likely be rejected")
	}

	return &WeatherClient{
		logger: logger,
		config: upstreamConfig,
		// One Fetch is one request against the quota-limited upstream.
		client: &fasthttp.Client{
			Name:                      "sai-weather",
			ReadTimeout:               upstreamConfig.Timeout,
			WriteTimeout:              upstreamConfig.Timeout,
			MaxIdleConnDuration:       time.Minute,
			MaxIdemponentCallAttempts: 1,
		},
		breaker:  NewCircuitBreaker(upstreamConfig.CircuitBreaker, logger, "weatherapi"),
		endpoint: strings.TrimRight(upstreamConfig.BaseURL, "/") + currentWeatherPath,
	}, nil
}

func (w *WeatherClient) Breaker() *CircuitBreaker {
	return w.breaker
}

// Fetch returns the upstream body for subject. Successful responses and the
// upstream's own "no matching location" answers (400, 404) are returned as
// payloads. Everything else is an error wrapping types.ErrUpstreamFailed.
func (w *WeatherClient) Fetch(ctx context.Context, subject string) (types.Payload, error) {
	if subject == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "subject is empty")
	}

	if err := ctx.Err(); err != nil {
		return nil, upstreamError(subject, err)
	}

	if !w.breaker.CanExecute() {
		return nil, upstreamError(subject, types.ErrCircuitBreakerOpen)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	args := req.URI().QueryArgs()
	args.Add("key", w.config.APIKey)
	args.Add("q", subject)
	args.Add("aqi", "no")

	deadline := time.Now().Add(w.config.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	start := time.Now()
	err := w.client.DoDeadline(req, resp, deadline)
	took := time.Since(start)

	if err != nil {
		w.breaker.RecordFailure()
		w.logger.Warn("Upstream request failed",
			zap.String("subject", subject),
			zap.Duration("duration", took),
			zap.Error(err))
		return nil, upstreamError(subject, err)
	}

	status := resp.StatusCode()

	if IsCircuitBreakerFailure(status, nil) {
		w.breaker.RecordFailure()
	} else {
		w.breaker.RecordSuccess()
	}

	switch {
	case status >= 200 && status < 300, status == fasthttp.StatusBadRequest, status == fasthttp.StatusNotFound:
		w.logger.Debug("Upstream responded",
			zap.String("subject", subject),
			zap.Int("status", status),
			zap.Duration("duration", took))

		payload := make(types.Payload, len(resp.Body()))
		copy(payload, resp.Body())
		return payload, nil
	default:
		body := resp.Body()
		if len(body) > maxErrorBodyLogSize {
			body = body[:maxErrorBodyLogSize]
		}
		w.logger.Warn("Upstream rejected request",
			zap.String("subject", subject),
			zap.Int("status", status),
			zap.ByteString("body", body),
			zap.Duration("duration", took))
		return nil, upstreamError(subject, types.Errorf(types.ErrUpstreamStatus, "status %d", status))
	}
}

func upstreamError(subject string, err error) error {
	return fmt.Errorf("%w: fetch %q: %w", types.ErrUpstreamFailed, subject, err)
}
