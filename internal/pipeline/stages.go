package pipeline

import "github.com/SwissDataScienceCenter/renku-portal/internal/config"

type Stage string

const (
	DeveloperErrorPage Stage = "DeveloperErrorPage"
	HSTS               Stage = "HSTS"
	HTTPSRedirect      Stage = "HTTPSRedirect"
	StaticFiles        Stage = "StaticFiles"
	Routing            Stage = "Routing"
	Authentication     Stage = "Authentication"
	Authorization      Stage = "Authorization"
	Controllers        Stage = "Controllers"
	Pages              Stage = "Pages"
	CorrelationID      Stage = "CorrelationID"
	APIDocs            Stage = "APIDocs"
)

// Stages returns the ordered request pipeline for the environment. The developer error
// page, HSTS and the interactive API docs only exist in development.
func Stages(env config.RunningEnvironment) []Stage {
	stages := []Stage{}
	if env.IsDevelopment() {
		stages = append(stages, DeveloperErrorPage, HSTS)
	}
	stages = append(stages,
		HTTPSRedirect,
		StaticFiles,
		Routing,
		Authentication,
		Authorization,
		Controllers,
		Pages,
		CorrelationID,
	)
	if env.IsDevelopment() {
		stages = append(stages, APIDocs)
	}
	return stages
}

// beforeRouting reports whether the stage runs before the router picked a route.
func beforeRouting(stage Stage) bool {
	switch stage {
	case DeveloperErrorPage, HSTS, HTTPSRedirect, StaticFiles:
		return true
	}
	return false
}
