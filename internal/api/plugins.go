package api

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	xerrors "DrawSight/internal/errors"
	"DrawSight/pkg/plugin"
)

// pluginView 是插件的对外视图：描述信息、当前状态与执行统计。
type pluginView struct {
	Metadata plugin.Metadata     `json:"metadata"`
	Status   *plugin.Status      `json:"status,omitempty"`
	Loaded   bool                `json:"loaded"`
	Stats    *plugin.PluginStats `json:"stats,omitempty"`
}

func (s *Server) viewOf(meta plugin.Metadata) pluginView {
	view := pluginView{Metadata: meta}
	if status, err := s.deps.Manager.State(meta.ID); err == nil {
		view.Status = &status
		view.Loaded = true
	}
	if stats, ok := s.deps.Manager.Metrics().Snapshot(meta.ID); ok {
		view.Stats = &stats
	}
	return view
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	registry := s.deps.Manager.Registry()
	q := r.URL.Query()
	var list []plugin.Metadata
	switch {
	case q.Get("category") != "":
		list = registry.ByCategory(plugin.Category(q.Get("category")))
	case q.Get("capability") != "":
		list = registry.ByCapability(plugin.Capability(q.Get("capability")))
	case q.Get("tag") != "":
		list = registry.ByTag(q.Get("tag"))
	default:
		list = registry.List()
	}
	lotteryType := q.Get("lottery_type")
	views := make([]pluginView, 0, len(list))
	for _, meta := range list {
		if lotteryType != "" && !meta.SupportsLotteryType(lotteryType) {
			continue
		}
		views = append(views, s.viewOf(meta))
	}
	slices.SortFunc(views, func(a, b pluginView) int {
		switch {
		case a.Metadata.ID < b.Metadata.ID:
			return -1
		case a.Metadata.ID > b.Metadata.ID:
			return 1
		}
		return 0
	})
	writeJSON(w, http.StatusOK, map[string]any{"plugins": views, "total": len(views)})
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	meta, err := s.deps.Manager.Metadata(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(meta))
}

func (s *Server) handlePluginSchema(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := s.deps.Manager.Plugin(id)
	if !ok {
		if _, err := s.deps.Manager.Metadata(id); err != nil {
			writeError(w, err)
			return
		}
		writeError(w, xerrors.New(plugin.CodeNotReady, fmt.Sprintf("plugin %s is not loaded", id)))
		return
	}
	schema := map[string]any{"type": "object"}
	if provider, ok := p.(plugin.SchemaProvider); ok {
		schema = provider.ParameterSchema()
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugin_id": id, "algorithm_params": schema})
}

// lifecycleAction 执行一次生命周期操作并返回操作后的状态。
func (s *Server) lifecycleAction(w http.ResponseWriter, r *http.Request, action func(id string) error) {
	id := chi.URLParam(r, "id")
	if err := action(id); err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{"plugin_id": id}
	if status, err := s.deps.Manager.State(id); err == nil {
		body["status"] = status
	} else {
		body["status"] = plugin.Status{State: plugin.StateUninitialized}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLoadPlugin(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, func(id string) error {
		return s.deps.Manager.Load(r.Context(), id)
	})
}

func (s *Server) handleUnloadPlugin(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, func(id string) error {
		if err := s.deps.Manager.Unload(r.Context(), id); err != nil {
			return err
		}
		s.invalidate(r, id)
		return nil
	})
}

func (s *Server) handleResetPlugin(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, func(id string) error {
		if err := s.deps.Manager.Reset(id); err != nil {
			return err
		}
		s.invalidate(r, id)
		return nil
	})
}

func (s *Server) handlePausePlugin(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, s.deps.Manager.Pause)
}

func (s *Server) handleResumePlugin(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, s.deps.Manager.Resume)
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.deps.Predictor.Invalidate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugin_id": id, "removed": removed})
}

// invalidate 清理插件缓存，失败只记录日志，不影响生命周期操作的结果。
func (s *Server) invalidate(r *http.Request, id string) {
	if s.deps.Predictor == nil {
		return
	}
	if _, err := s.deps.Predictor.Invalidate(r.Context(), id); err != nil {
		s.logger.Warn("清理插件缓存失败", "plugin_id", id, "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"engine":  s.deps.Manager.Stats(),
		"plugins": s.deps.Manager.Metrics().All(),
		"limits":  s.deps.Manager.Limits(),
	}
	if s.deps.Jobs != nil {
		if stats, err := s.deps.Jobs.Stats(r.Context()); err == nil {
			body["jobs"] = stats
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleActiveExecutions(w http.ResponseWriter, _ *http.Request) {
	active := s.deps.Manager.ActiveExecutions()
	writeJSON(w, http.StatusOK, map[string]any{"executions": active, "total": len(active)})
}
