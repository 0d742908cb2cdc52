// Package admin exposes fixer status and settings over HTTP (chi) and MCP.
// Writes go to the settings store; the store watcher re-applies them.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/smallmercies/fixer"
	"github.com/hazyhaar/smallmercies/idgen"
	"github.com/hazyhaar/smallmercies/kit"
	"github.com/hazyhaar/smallmercies/settings"
)

// SettingsStore is the persistent settings source.
type SettingsStore interface {
	Load(ctx context.Context) (settings.Settings, error)
	Set(ctx context.Context, key string, value any) error
}

// FixerLister reports registered fixers.
type FixerLister interface {
	Fixers() []fixer.Status
}

// Service holds the admin endpoints.
type Service struct {
	store  SettingsStore
	fixers FixerLister
	logger *slog.Logger
	newID  idgen.Generator

	listFixers  kit.Endpoint
	getSettings kit.Endpoint
	setSetting  kit.Endpoint
}

// New creates a Service.
func New(store SettingsStore, fixers FixerLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		fixers: fixers,
		logger: logger,
		newID:  idgen.Prefixed("adm_", idgen.Default),
	}
	mw := kit.Chain(s.logging)
	s.listFixers = mw(s.doListFixers)
	s.getSettings = mw(s.doGetSettings)
	s.setSetting = mw(s.doSetSetting)
	return s
}

// SetSettingRequest is the input of the set operation.
type SetSettingRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (s *Service) doListFixers(_ context.Context, _ any) (any, error) {
	return map[string]any{"fixers": s.fixers.Fixers()}, nil
}

func (s *Service) doGetSettings(ctx context.Context, _ any) (any, error) {
	st, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"settings": st.Map()}, nil
}

func (s *Service) doSetSetting(ctx context.Context, req any) (any, error) {
	r, ok := req.(*SetSettingRequest)
	if !ok || r.Key == "" {
		return nil, kit.WithStatus(http.StatusBadRequest, errors.New("admin: key is required"))
	}
	if err := s.store.Set(ctx, r.Key, r.Value); err != nil {
		if errors.Is(err, settings.ErrNotPrimitive) {
			return nil, kit.WithStatus(http.StatusBadRequest, err)
		}
		return nil, err
	}
	return map[string]any{"key": r.Key, "value": r.Value}, nil
}

func (s *Service) logging(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		if kit.GetRequestID(ctx) == "" {
			ctx = kit.WithRequestID(ctx, s.newID())
		}
		start := time.Now()
		resp, err := next(ctx, req)
		attrs := []any{
			"transport", kit.GetTransport(ctx),
			"request_id", kit.GetRequestID(ctx),
			"duration", time.Since(start),
		}
		if err != nil {
			s.logger.Warn("admin: request failed", append(attrs, "error", err)...)
		} else {
			s.logger.Debug("admin: request", attrs...)
		}
		return resp, err
	}
}

// RegisterHTTP mounts the admin routes on r.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/fixers", kit.HTTPHandler(s.listFixers, nil))
	r.Get("/settings", kit.HTTPHandler(s.getSettings, nil))
	r.Put("/settings/{key}", kit.HTTPHandler(s.setSetting, decodeSetSetting))
}

func decodeSetSetting(r *http.Request) (any, error) {
	var v any
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return &SetSettingRequest{Key: chi.URLParam(r, "key"), Value: v}, nil
}

// RegisterMCP registers the admin tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mercies_list_fixers",
		Description: "List registered fixers with their capabilities, flags and enabled state.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}, s.listFixers, kit.NoArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mercies_get_settings",
		Description: "Return the persisted settings.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}, s.getSettings, kit.NoArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mercies_set_setting",
		Description: "Set one setting. Values must be booleans, numbers or strings; fixers pick the change up live.",
		InputSchema: kit.InputSchema(map[string]any{
			"key":   map[string]any{"type": "string", "description": "Setting key, e.g. ship_saver"},
			"value": map[string]any{"description": "New primitive value"},
		}, []string{"key", "value"}),
	}, s.setSetting, kit.DecodeArgs[SetSettingRequest]())
}

// Handler returns the complete admin HTTP surface, MCP included at /mcp.
func (s *Service) Handler(impl *mcp.Implementation) http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	s.RegisterHTTP(r)

	srv := mcp.NewServer(impl, nil)
	s.RegisterMCP(srv)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	return r
}

func (s *Service) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = s.newID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(kit.WithRequestID(r.Context(), id)))
	})
}
