package server

import (
	"time"

	"github.com/saiset-co/sai-weather/types"
)

// RouteBuilder edits the configuration of an already registered route. The
// server reads route configuration when it starts, so changes made after
// Start have no effect.
type RouteBuilder struct {
	config *types.RouteConfig
}

func (rb *RouteBuilder) WithoutMiddlewares(names ...string) types.RouteBuilder {
	rb.config.DisabledMiddlewares = append(rb.config.DisabledMiddlewares, names...)
	return rb
}

func (rb *RouteBuilder) WithTimeout(duration time.Duration) types.RouteBuilder {
	rb.config.Timeout = duration
	return rb
}
