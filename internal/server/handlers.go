package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/solstice-ops/solstice/internal/config/store"
	"github.com/solstice-ops/solstice/internal/plugin"
	"github.com/solstice-ops/solstice/internal/version"
)

// installProbeTimeout bounds the post-install status and version probes.
const installProbeTimeout = 30 * time.Second

type toolSummary struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Stage       string `json:"current_stage,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
	HasModule   bool   `json:"has_module"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  version.String(),
		"modules":  len(s.registry.All()),
		"sessions": len(s.sessions.Sessions()),
	})
}

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tools, err := s.store.ListTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot list tools")
		return
	}

	out := make([]toolSummary, 0, len(tools))
	for _, t := range tools {
		out = append(out, s.summarize(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) summarize(t store.Tool) toolSummary {
	summary := toolSummary{
		Name:        t.Name,
		DisplayName: capitalize(t.Name),
		Icon:        t.Name,
		Status:      t.Status,
		Version:     t.Version,
		Stage:       t.CurrentStage,
		LastUpdated: t.LastUpdated,
	}
	if mod, ok := s.registry.Get(t.Name); ok {
		summary.DisplayName = mod.Name()
		summary.Icon = mod.Icon()
		summary.HasModule = true
	}
	return summary
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// handleToolSubroutes dispatches /api/tools/{name}[/op].
func (s *Server) handleToolSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tools/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	name := parts[0]
	if name == "" {
		writeError(w, http.StatusNotFound, "tool name required")
		return
	}

	op := ""
	if len(parts) == 2 {
		op = parts[1]
	}

	switch op {
	case "":
		s.handleToolDetail(w, r, name)
	case "install":
		s.handleToolInstall(w, r, name)
	case "status":
		s.handleToolStatus(w, r, name)
	case "version":
		s.handleToolVersion(w, r, name)
	case "hx":
		s.handleToolTarget(w, r, name)
	default:
		writeError(w, http.StatusNotFound, "unknown tool operation")
	}
}

func (s *Server) lookupTool(ctx context.Context, w http.ResponseWriter, name string) (store.Tool, bool) {
	tool, err := s.store.GetTool(ctx, name)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "no such tool")
		} else {
			writeError(w, http.StatusInternalServerError, "tool lookup failed")
		}
		return store.Tool{}, false
	}
	return tool, true
}

func (s *Server) handleToolDetail(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tool, ok := s.lookupTool(r.Context(), w, name)
	if !ok {
		return
	}

	detail := map[string]any{"tool": s.summarize(tool)}

	if mod, found := s.registry.Get(name); found {
		detail["resource_tabs"] = mod.ResourceTabs()
		detail["detail_template"] = mod.DetailTemplate()
		detail["description"] = mod.Description()
		if svg := mod.CustomIconSVG(); svg != "" {
			detail["icon_svg"] = svg
		}
		if v, probed := mod.ServiceVersion(r.Context()); probed {
			detail["service_version"] = v
		} else {
			detail["service_version"] = tool.Version
		}

		detail["context"] = s.cache.get(contextKey(name, r), func() map[string]any {
			return mod.ContextData(r.Context(), r)
		})
	}

	writeJSON(w, http.StatusOK, detail)
}

// contextKey scopes cached context data by module and the request's tab
// and filter parameters.
func contextKey(moduleID string, r *http.Request) string {
	q := r.URL.Query()
	return moduleID + "|" + q.Get("tab") + "|" + q.Get("namespace")
}

// handleToolInstall kicks off an asynchronous install. The Tool row
// tracks progress: installing, then installed or error.
func (s *Server) handleToolInstall(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tool, ok := s.lookupTool(r.Context(), w, name)
	if !ok {
		return
	}
	mod, found := s.registry.Get(name)
	if !found {
		writeError(w, http.StatusConflict, "no module installed for this tool")
		return
	}
	// The install outlives the request; track it against a background
	// context so a closed connection does not abort it. Claiming the
	// installing status is a single conditional update, so concurrent
	// requests resolve to one winner.
	ctx := context.Background()
	started, err := s.store.BeginToolInstall(ctx, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot mark tool installing")
		return
	}
	if !started {
		writeError(w, http.StatusConflict, "install already in progress")
		return
	}

	go s.runInstall(ctx, mod, tool)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"name":   name,
		"status": store.ToolStatusInstalling,
	})
}

func (s *Server) runInstall(ctx context.Context, mod plugin.Module, tool store.Tool) {
	name := mod.ID()
	log.Printf("[Server] Installing %s", name)

	if err := mod.Install(ctx, &tool); err != nil {
		log.Printf("[Server] Install of %s failed: %v", name, err)
		_ = s.store.SetToolStage(ctx, name, err.Error())
		_ = s.store.UpdateToolStatus(ctx, name, store.ToolStatusError)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, installProbeTimeout)
	defer cancel()
	if v, ok := mod.ServiceVersion(probeCtx); ok {
		_ = s.store.UpdateToolVersion(ctx, name, v)
	}
	_ = s.store.SetToolStage(ctx, name, "")
	_ = s.store.UpdateToolStatus(ctx, name, store.ToolStatusInstalled)
	s.cache.invalidate(name)
	log.Printf("[Server] Installed %s", name)
}

func (s *Server) handleToolStatus(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tool, ok := s.lookupTool(r.Context(), w, name)
	if !ok {
		return
	}

	state := plugin.ServiceUnknown
	if mod, found := s.registry.Get(name); found {
		state = mod.ServiceStatus(r.Context(), &tool)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"name":           name,
		"service_status": string(state),
		"install_status": tool.Status,
	})
}

func (s *Server) handleToolVersion(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tool, ok := s.lookupTool(r.Context(), w, name)
	if !ok {
		return
	}

	v := tool.Version
	if mod, found := s.registry.Get(name); found {
		if probed, probeOK := mod.ServiceVersion(r.Context()); probeOK {
			v = probed
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "version": v})
}

// handleToolTarget dispatches an interactive action to the module's
// HandleTarget hook. An unhandled target is a deliberate no-op.
func (s *Server) handleToolTarget(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := s.lookupTool(r.Context(), w, name); !ok {
		return
	}
	mod, found := s.registry.Get(name)
	if !found {
		writeError(w, http.StatusNotFound, "no module installed for this tool")
		return
	}

	target := r.URL.Query().Get("target")
	if mod.HandleTarget(w, r, target) {
		if r.Method != http.MethodGet {
			s.cache.invalidate(name)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type sessionInfo struct {
		Key     string `json:"key"`
		State   string `json:"state"`
		Viewers int    `json:"viewers"`
		Chunks  int    `json:"buffered_chunks"`
	}

	sessions := s.sessions.Sessions()
	out := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionInfo{
			Key:     sess.Key(),
			State:   string(sess.State()),
			Viewers: sess.ViewerCount(),
			Chunks:  sess.HistoryLen(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type registryPayload struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (s *Server) handleRegistries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		regs, err := s.store.ListDockerRegistries(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cannot list registries")
			return
		}
		type registryInfo struct {
			ID        int64  `json:"id"`
			Name      string `json:"name"`
			URL       string `json:"url"`
			Username  string `json:"username,omitempty"`
			CreatedAt string `json:"created_at,omitempty"`
		}
		// Passwords stay server-side.
		out := make([]registryInfo, 0, len(regs))
		for _, reg := range regs {
			out = append(out, registryInfo{
				ID: reg.ID, Name: reg.Name, URL: reg.URL,
				Username: reg.Username, CreatedAt: reg.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var payload registryPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		if payload.Name == "" || payload.URL == "" {
			writeError(w, http.StatusBadRequest, "name and url are required")
			return
		}
		id, err := s.store.AddDockerRegistry(r.Context(), store.DockerRegistry{
			Name:     payload.Name,
			URL:      payload.URL,
			Username: payload.Username,
			Password: payload.Password,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cannot add registry")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRegistrySubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/registries/"), "/")
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registry id")
		return
	}
	if err := s.store.RemoveDockerRegistry(r.Context(), id); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "no such registry")
			return
		}
		writeError(w, http.StatusInternalServerError, "cannot remove registry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleModuleRoutes dispatches /api/modules/{id}/{route} to the routes
// the module contributed.
func (s *Server) handleModuleRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/modules/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "module route required")
		return
	}
	moduleID, routePath := parts[0], parts[1]

	mod, ok := s.registry.Get(moduleID)
	if !ok {
		writeError(w, http.StatusNotFound, "no such module")
		return
	}
	for _, route := range mod.Routes() {
		if route.Pattern == routePath {
			route.Handler(w, r)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no such module route")
}
