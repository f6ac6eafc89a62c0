package host

import (
	"sync"

	"github.com/labstack/echo/v4"
)

// AuthorizationPolicy remembers which routes need an authenticated principal.
type AuthorizationPolicy struct {
	lock      sync.RWMutex
	protected map[string]struct{}
}

func NewAuthorizationPolicy() *AuthorizationPolicy {
	return &AuthorizationPolicy{protected: map[string]struct{}{}}
}

func (p *AuthorizationPolicy) require(method, path string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.protected[method+" "+path] = struct{}{}
}

// Requires reports whether the matched route is protected.
func (p *AuthorizationPolicy) Requires(method, path string) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	_, found := p.protected[method+" "+path]
	return found
}

// Middleware runs the challenge for protected routes and lets everything else through.
// It has to run after routing so that c.Path() holds the route template.
func (p *AuthorizationPolicy) Middleware(challenge echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		challenged := challenge(next)
		return func(c echo.Context) error {
			if p.Requires(c.Request().Method, c.Path()) {
				return challenged(c)
			}
			return next(c)
		}
	}
}

// PageRouter registers page routes, all of them require an authenticated principal.
type PageRouter struct {
	e      *echo.Echo
	policy *AuthorizationPolicy
}

func (r PageRouter) GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route {
	r.policy.require("GET", path)
	return r.e.GET(path, h, m...)
}

func (r PageRouter) POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route {
	r.policy.require("POST", path)
	return r.e.POST(path, h, m...)
}
