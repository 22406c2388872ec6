// Package router mounts the messaging REST API on a gin engine.
package router

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// Route is a single endpoint of a Group
type Route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
	// Public routes skip token verification
	Public bool
}

// Group is a set of routes sharing a prefix and middleware
type Group struct {
	Name       string
	Prefix     string
	Middleware []gin.HandlerFunc
	Routes     []Route
}

// Get, Post, Put, Patch and Delete build a Route
func Get(p string, h gin.HandlerFunc) Route    { return Route{Method: http.MethodGet, Path: p, Handler: h} }
func Post(p string, h gin.HandlerFunc) Route   { return Route{Method: http.MethodPost, Path: p, Handler: h} }
func Put(p string, h gin.HandlerFunc) Route    { return Route{Method: http.MethodPut, Path: p, Handler: h} }
func Patch(p string, h gin.HandlerFunc) Route  { return Route{Method: http.MethodPatch, Path: p, Handler: h} }
func Delete(p string, h gin.HandlerFunc) Route { return Route{Method: http.MethodDelete, Path: p, Handler: h} }

// AsPublic marks the route as reachable without a token
func (r Route) AsPublic() Route {
	r.Public = true
	return r
}

func (g Group) mount(rg *gin.RouterGroup) {
	group := rg.Group(g.Prefix, g.Middleware...)
	for _, route := range g.Routes {
		group.Handle(route.Method, route.Path, route.Handler)
	}
}

// Router mounts groups under a versioned API prefix. Middleware added with
// Use applies to the API only, not to routes mounted directly on the engine
// such as /health and the websocket endpoint.
type Router struct {
	engine     *gin.Engine
	basePath   string
	middleware []gin.HandlerFunc
}

// Option configures a Router
type Option func(*Router)

// WithAPIVersion sets the version segment of the prefix, "v1" by default
func WithAPIVersion(version string) Option {
	return func(r *Router) { r.basePath = "/api/" + version }
}

// New creates a Router on engine
func New(engine *gin.Engine, opts ...Option) *Router {
	r := &Router{engine: engine, basePath: "/api/v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BasePath returns the versioned prefix, e.g. /api/v1
func (r *Router) BasePath() string {
	return r.basePath
}

// Use adds API middleware. It must be called before Mount.
func (r *Router) Use(middleware ...gin.HandlerFunc) *Router {
	r.middleware = append(r.middleware, middleware...)
	return r
}

// Mount registers groups under the API prefix
func (r *Router) Mount(groups ...Group) {
	api := r.engine.Group(r.basePath, r.middleware...)
	for _, g := range groups {
		g.mount(api)
	}
}

// PublicPaths returns the full paths of the public routes in groups
func (r *Router) PublicPaths(groups ...Group) []string {
	var paths []string
	for _, g := range groups {
		for _, route := range g.Routes {
			if route.Public {
				paths = append(paths, path.Join(r.basePath, g.Prefix, route.Path))
			}
		}
	}
	return paths
}
