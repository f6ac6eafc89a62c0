// Package apidocs publishes an OpenAPI document of the /api routes together with an
// interactive Swagger UI page.
package apidocs

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

const (
	SpecPath  string = "/swagger/v1/swagger.json"
	UIPath    string = "/swagger/index.html"
	apiPrefix string = "/api"
)

type APIDocs struct {
	title     string
	version   string
	summaries map[string]string
	lock      sync.Mutex
}

func New(title, version string) *APIDocs {
	return &APIDocs{title: title, version: version, summaries: map[string]string{}}
}

// Describe sets the summary of an operation.
func (a *APIDocs) Describe(method, path, summary string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.summaries[method+" "+path] = summary
}

// Document builds the OpenAPI document from the registered echo routes.
func (a *APIDocs) Document(routes []*echo.Route) (*openapi3.T, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    &openapi3.Info{Title: a.title, Version: a.version},
		Paths:   openapi3.Paths{},
	}
	sorted := append([]*echo.Route{}, routes...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Path == sorted[j].Path {
			return sorted[i].Method < sorted[j].Method
		}
		return sorted[i].Path < sorted[j].Path
	})
	for _, route := range sorted {
		if route.Path != apiPrefix && !strings.HasPrefix(route.Path, apiPrefix+"/") {
			continue
		}
		if route.Method == echo.RouteNotFound {
			continue
		}
		path, params := openAPIPath(route.Path)
		item, found := doc.Paths[path]
		if !found {
			item = &openapi3.PathItem{}
			doc.Paths[path] = item
		}
		operation := openapi3.NewOperation()
		operation.OperationID = operationID(route.Method, route.Path)
		operation.Summary = a.summaries[route.Method+" "+route.Path]
		for _, param := range params {
			operation.AddParameter(openapi3.NewPathParameter(param).WithSchema(openapi3.NewStringSchema()))
		}
		operation.AddResponse(http.StatusOK, openapi3.NewResponse().WithDescription("OK"))
		operation.AddResponse(http.StatusUnauthorized, openapi3.NewResponse().WithDescription("Not authenticated"))
		item.SetOperation(route.Method, operation)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("the generated API document is invalid: %w", err)
	}
	return doc, nil
}

// openAPIPath turns echo path parameters (:id) into OpenAPI ones ({id}).
func openAPIPath(path string) (string, []string) {
	segments := strings.Split(path, "/")
	params := []string{}
	for i, segment := range segments {
		if strings.HasPrefix(segment, ":") {
			name := strings.TrimPrefix(segment, ":")
			params = append(params, name)
			segments[i] = "{" + name + "}"
		}
	}
	return strings.Join(segments, "/"), params
}

func operationID(method, path string) string {
	parts := []string{strings.ToLower(method)}
	for _, segment := range strings.Split(strings.TrimPrefix(path, apiPrefix), "/") {
		segment = strings.Trim(segment, ":*")
		if segment == "" {
			continue
		}
		parts = append(parts, strings.ToUpper(segment[:1])+segment[1:])
	}
	return strings.Join(parts, "")
}

// RegisterHandlers adds the document and the UI routes.
func (a *APIDocs) RegisterHandlers(e *echo.Echo) {
	e.GET(SpecPath, func(c echo.Context) error {
		doc, err := a.Document(e.Routes())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, doc)
	})
	e.GET(UIPath, func(c echo.Context) error {
		return c.Render(http.StatusOK, "swagger", map[string]any{"title": a.title, "specURL": SpecPath})
	})
	e.GET("/swagger", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, UIPath)
	})
}
