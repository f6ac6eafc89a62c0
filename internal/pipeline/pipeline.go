// Package pipeline assembles the request pipeline of the portal from per-stage components,
// in the order given by Stages.
package pipeline

import (
	"fmt"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/labstack/echo/v4"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Component is what a stage contributes: middlewares and/or routes.
type Component struct {
	Middlewares []echo.MiddlewareFunc
	Register    func(e *echo.Echo) error
}

type Pipeline struct {
	env        config.RunningEnvironment
	components *orderedmap.OrderedMap[Stage, Component]
}

func New(env config.RunningEnvironment) *Pipeline {
	components := orderedmap.New[Stage, Component]()
	for _, stage := range Stages(env) {
		components.Set(stage, Component{})
	}
	return &Pipeline{env: env, components: components}
}

// Has reports whether the stage is part of the pipeline of this environment.
func (p *Pipeline) Has(stage Stage) bool {
	_, found := p.components.Get(stage)
	return found
}

// Add appends to the component of a stage. Stages that do not exist in the environment
// are ignored and reported as false.
func (p *Pipeline) Add(stage Stage, component Component) bool {
	existing, found := p.components.Get(stage)
	if !found {
		return false
	}
	existing.Middlewares = append(existing.Middlewares, component.Middlewares...)
	if component.Register != nil {
		previous := existing.Register
		next := component.Register
		existing.Register = func(e *echo.Echo) error {
			if previous != nil {
				if err := previous(e); err != nil {
					return err
				}
			}
			return next(e)
		}
	}
	p.components.Set(stage, existing)
	return true
}

// Stages lists the stages in execution order.
func (p *Pipeline) Stages() []Stage {
	stages := make([]Stage, 0, p.components.Len())
	for pair := p.components.Oldest(); pair != nil; pair = pair.Next() {
		stages = append(stages, pair.Key)
	}
	return stages
}

// Assemble installs the components on the server. Middlewares of stages before Routing run
// before the router, the others only for matched routes.
func (p *Pipeline) Assemble(e *echo.Echo) error {
	for pair := p.components.Oldest(); pair != nil; pair = pair.Next() {
		stage, component := pair.Key, pair.Value
		if len(component.Middlewares) > 0 {
			if beforeRouting(stage) {
				e.Pre(component.Middlewares...)
			} else {
				e.Use(component.Middlewares...)
			}
		}
		if component.Register != nil {
			if err := component.Register(e); err != nil {
				return fmt.Errorf("assembling the %s stage failed: %w", stage, err)
			}
		}
	}
	return nil
}
