package server

import (
	"sort"
	"sync"

	"github.com/saiset-co/sai-weather/types"
	"github.com/saiset-co/sai-weather/utils"
)

var allowedMethods = map[string]struct{}{
	"GET":     {},
	"POST":    {},
	"PUT":     {},
	"DELETE":  {},
	"PATCH":   {},
	"HEAD":    {},
	"OPTIONS": {},
}

// Router is a static route table keyed by "METHOD /path". The service only
// exposes fixed paths, so there is no pattern matching.
type Router struct {
	routes map[string]*types.RouteInfo
	paths  map[string][]string
	mu     sync.RWMutex
}

func NewRouter() *Router {
	return &Router{
		routes: make(map[string]*types.RouteInfo),
		paths:  make(map[string][]string),
	}
}

func (r *Router) Add(method, path string, handler types.FastHTTPHandler, config *types.RouteConfig) {
	if _, ok := allowedMethods[method]; !ok || handler == nil {
		return
	}

	if config == nil {
		config = &types.RouteConfig{}
	}

	path = normalizePath(path)
	key := utils.RouteKey(method, path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.routes[key]; !exists {
		r.paths[path] = append(r.paths[path], method)
	}

	r.routes[key] = &types.RouteInfo{
		Method:  method,
		Path:    path,
		Handler: handler,
		Config:  config,
	}
}

func (r *Router) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	config := &types.RouteConfig{}
	r.Add("GET", path, handler, config)

	return &RouteBuilder{config: config}
}

func (r *Router) Routes() map[string]*types.RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]*types.RouteInfo, len(r.routes))
	for key, info := range r.routes {
		routes[key] = info
	}
	return routes
}

// Lookup returns the route for method and path. When only the method is
// wrong, the allowed methods for the path are returned instead.
func (r *Router) Lookup(method, path string) (*types.RouteInfo, []string) {
	path = normalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if info, ok := r.routes[utils.RouteKey(method, path)]; ok {
		return info, nil
	}

	methods := append([]string(nil), r.paths[path]...)
	sort.Strings(methods)

	return nil, methods
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
