// Package portalerrors contains all common errors used by the portal.
package portalerrors

import "fmt"

var ErrMissingConfigSection = fmt.Errorf("a required configuration section is missing")
var ErrSecretNotFound = fmt.Errorf("the secret cannot be found")
var ErrSessionParse = fmt.Errorf("cannot parse session from context")
var ErrSessionNotFound = fmt.Errorf("cannot find the session")
var ErrSessionExpired = fmt.Errorf("the session is expired")
var ErrNotAuthenticated = fmt.Errorf("the request is not authenticated")
var ErrMissingDBResource = fmt.Errorf("the requested resource cannot be found in the DB")
var ErrHostBuilt = fmt.Errorf("the host is already built, no more services can be registered")
var ErrHostNotBuilt = fmt.Errorf("the host has not been built yet")
var ErrTelemetryNotWired = fmt.Errorf("telemetry has to be wired before the host is built")
var ErrNoRequestScope = fmt.Errorf("the request has no storage scope")
