package host

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/labstack/echo/v4"
)

// Host is a built portal, ready to serve.
type Host struct {
	echo            *echo.Echo
	address         string
	telemetry       Telemetry
	shutdownTimeout time.Duration
	lock            sync.Mutex
	state           State
	history         []State
}

func (h *Host) setState(to State) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.state = to
	h.history = append(h.history, to)
	slog.Debug("host state changed", "state", to.String())
}

func (h *Host) State() State {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.state
}

// History lists every state the host went through, starting with Configuring.
func (h *Host) History() []State {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]State{}, h.history...)
}

// Handler exposes the assembled pipeline, mostly for tests.
func (h *Host) Handler() http.Handler {
	return h.echo
}

// Routes lists the registered routes.
func (h *Host) Routes() []*echo.Route {
	return h.echo.Routes()
}

// Run serves until the context is cancelled, then shuts the server down gracefully and
// flushes the telemetry.
func (h *Host) Run(ctx context.Context) error {
	if h.State() != PipelineAssembled {
		return errors.New("the host can only run once")
	}
	h.setState(Serving)
	slog.Info("starting the server on address " + h.address)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- h.echo.Start(h.address)
	}()

	var result *multierror.Error
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			result = multierror.Append(result, err)
		}
	case <-ctx.Done():
		slog.Info("received signal to shut down the server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()
	if err := h.echo.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutting down the server gracefully failed", "error", err)
		result = multierror.Append(result, err)
	}
	if err := h.telemetry.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	h.setState(Stopped)
	return result.ErrorOrNil()
}

// ListenerAddr returns the bound address once the server is listening.
func (h *Host) ListenerAddr() string {
	addr := h.echo.ListenerAddr()
	if addr == nil {
		return ""
	}
	return addr.String()
}
