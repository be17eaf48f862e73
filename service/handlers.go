package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
	"github.com/saiset-co/sai-weather/utils"
)

type weatherResponse struct {
	Data interface{} `json:"data"`
}

// countersResponse keeps the legacy counter names next to the current ones.
type countersResponse struct {
	ExternalAPIRequestCounter uint64 `json:"externalApiRequestCounter"`
	TotalAPIRequestCounter    uint64 `json:"totalApiRequestCounter"`
	TotalRequests             uint64 `json:"totalRequests"`
	ExternalFetches           uint64 `json:"externalFetches"`
}

func (s *Service) registerRoutes() {
	s.router.GET("/weather", s.handleWeather).WithTimeout(s.requestTimeout + time.Second)
	s.router.GET("/counters", s.handleCounters).WithoutMiddlewares("logging")

	if mw := s.config.GetConfig().Middlewares; mw != nil && mw.CORS != nil && mw.CORS.Enabled {
		for _, path := range []string{"/weather", "/counters"} {
			s.router.Add(fasthttp.MethodOptions, path, handlePreflight, &types.RouteConfig{
				DisabledMiddlewares: []string{"logging", "rate_limit"},
			})
		}
	}
}

// handlePreflight answers OPTIONS requests the cors middleware lets through.
func handlePreflight(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Service) handleWeather(ctx *fasthttp.RequestCtx) {
	city := string(ctx.QueryArgs().Peek("city"))

	// an empty city still goes through the accessor so it is counted
	reqCtx, cancel := context.WithTimeout(s.ctx, s.requestTimeout)
	defer cancel()

	payload, err := s.accessor.GetOrRefresh(reqCtx, city)
	if err != nil {
		if types.IsError(err, types.ErrSubjectEmpty) {
			utils.WriteError(ctx, fasthttp.StatusBadRequest, "query parameter city is required")
			return
		}

		s.logger.Warn("Weather lookup failed", zap.String("city", city), zap.Error(err))
		utils.WriteError(ctx, fasthttp.StatusBadGateway, err.Error())
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, weatherResponse{Data: payloadBody(payload)})
}

func (s *Service) handleCounters(ctx *fasthttp.RequestCtx) {
	snapshot := s.accessor.Counters()

	utils.WriteJSON(ctx, fasthttp.StatusOK, countersResponse{
		ExternalAPIRequestCounter: snapshot.ExternalFetches,
		TotalAPIRequestCounter:    snapshot.TotalRequests,
		TotalRequests:             snapshot.TotalRequests,
		ExternalFetches:           snapshot.ExternalFetches,
	})
}

// payloadBody embeds JSON payloads as-is and anything else as a string.
func payloadBody(payload types.Payload) interface{} {
	if len(payload) == 0 {
		return nil
	}
	if sonic.Valid(payload) {
		return json.RawMessage(payload)
	}
	return string(payload)
}
