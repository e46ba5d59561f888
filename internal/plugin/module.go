// Package plugin defines the capability contract installable modules
// implement and the process-wide registry that indexes them.
package plugin

import (
	"context"
	"net/http"

	"github.com/solstice-ops/solstice/internal/config/store"
	"github.com/solstice-ops/solstice/internal/term"
)

// ServiceState classifies the health of a module's backing service.
type ServiceState string

const (
	ServiceRunning ServiceState = "running"
	ServiceStopped ServiceState = "stopped"
	ServiceError   ServiceState = "error"
	ServiceUnknown ServiceState = "unknown"
)

// Route is an HTTP endpoint contributed by a module, mounted under the
// module's URL namespace (/api/modules/<id>/<pattern>).
type Route struct {
	Pattern string
	Handler http.HandlerFunc
}

// SocketRoute declares a websocket endpoint a module offers. The core
// daemon serves terminals on its own fixed channel and leaves these for
// frontends that mount module sockets themselves.
type SocketRoute struct {
	Pattern string
	Handler http.HandlerFunc
}

// ResourceTab describes one tab on a module's detail view. RefreshSeconds
// of zero means no live refresh.
type ResourceTab struct {
	ID             string
	Label          string
	Template       string
	RefreshSeconds int
}

// Module is the contract every installable module implements. Every hook
// has a safe default supplied by Base, so a minimal module only provides
// identity fields. Modules are immutable once registered.
type Module interface {
	ID() string
	Name() string
	Description() string
	Version() string

	Routes() []Route
	SocketRoutes() []SocketRoute
	Icon() string
	CustomIconSVG() string
	DetailTemplate() string
	InstallTemplate() string
	ResourceTabs() []ResourceTab

	// ContextData returns extra data for a module detail request, keyed by
	// the active tab. Implementations must tolerate arbitrary query input.
	ContextData(ctx context.Context, r *http.Request) map[string]any

	// HandleTarget dispatches an interactive request keyed by an opaque
	// target string. It reports whether the target was handled; an
	// unhandled target leaves the response untouched.
	HandleTarget(w http.ResponseWriter, r *http.Request, target string) bool

	// Install performs the module's installation action against its Tool
	// record. Long-running; callers invoke it off the request path.
	Install(ctx context.Context, tool *store.Tool) error

	// ServiceStatus probes the backing service. Probe failures map to
	// ServiceUnknown, never to an error.
	ServiceStatus(ctx context.Context, tool *store.Tool) ServiceState

	// ServiceVersion probes the installed service version. ok is false
	// when the module has no version probe or the probe failed.
	ServiceVersion(ctx context.Context) (version string, ok bool)

	// SessionTypes maps terminal session kinds this module supplies to
	// their process factories.
	SessionTypes() map[string]term.Factory
}

// Base provides the default capability set. Concrete modules embed it and
// override the hooks they implement.
type Base struct {
	ModuleID    string
	ModuleName  string
	ModuleDesc  string
	ModuleVer   string
	ModuleIcon  string
	IconSVG     string
	DetailTmpl  string
	InstallTmpl string
}

func (b *Base) ID() string          { return b.ModuleID }
func (b *Base) Name() string        { return b.ModuleName }
func (b *Base) Description() string { return b.ModuleDesc }
func (b *Base) Version() string     { return b.ModuleVer }

func (b *Base) Routes() []Route             { return nil }
func (b *Base) SocketRoutes() []SocketRoute { return nil }
func (b *Base) ResourceTabs() []ResourceTab { return nil }
func (b *Base) CustomIconSVG() string       { return b.IconSVG }
func (b *Base) InstallTemplate() string     { return b.InstallTmpl }

// Icon defaults to the module id, which the frontend resolves against its
// icon set.
func (b *Base) Icon() string {
	if b.ModuleIcon != "" {
		return b.ModuleIcon
	}
	return b.ModuleID
}

func (b *Base) DetailTemplate() string {
	if b.DetailTmpl != "" {
		return b.DetailTmpl
	}
	return "core/modules/" + b.ModuleID + ".html"
}

func (b *Base) ContextData(context.Context, *http.Request) map[string]any { return nil }

func (b *Base) HandleTarget(http.ResponseWriter, *http.Request, string) bool { return false }

func (b *Base) Install(context.Context, *store.Tool) error { return nil }

func (b *Base) ServiceStatus(context.Context, *store.Tool) ServiceState { return ServiceRunning }

func (b *Base) ServiceVersion(context.Context) (string, bool) { return "", false }

func (b *Base) SessionTypes() map[string]term.Factory { return nil }
