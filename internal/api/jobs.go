package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	xerrors "DrawSight/internal/errors"
	"DrawSight/internal/job"
	"DrawSight/pkg/plugin"
)

// predictionRequest 是同步预测与异步任务共用的请求体。
type predictionRequest struct {
	ID          string                       `json:"id,omitempty"`
	PluginID    string                       `json:"plugin_id"`
	LotteryType string                       `json:"lottery_type"`
	Parameters  *plugin.PredictionParameters `json:"parameters,omitempty"`
}

func (p predictionRequest) toJob() job.Request {
	params := plugin.DefaultParameters()
	if p.Parameters != nil {
		params = *p.Parameters
	}
	return job.Request{
		ID:          p.ID,
		PluginID:    p.PluginID,
		LotteryType: p.LotteryType,
		Parameters:  params,
	}
}

type predictionResponse struct {
	Result *plugin.PredictionResult `json:"result"`
	Cached bool                     `json:"cached"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := s.deps.Predictor.Predict(r.Context(), req.toJob())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, predictionResponse{Result: outcome.Result, Cached: outcome.Cached})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	submitted, err := s.deps.Jobs.Submit(r.Context(), req.toJob())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+submitted.ID)
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	found, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// listOptionsFrom 解析任务列表的查询参数。
func listOptionsFrom(r *http.Request) ([]job.ListOption, error) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		return nil, err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return nil, err
	}
	opts := []job.ListOption{
		job.WithLimit(limit),
		job.WithOffset(offset),
		job.WithPlugin(q.Get("plugin_id")),
		job.WithLotteryType(q.Get("lottery_type")),
		job.WithQuery(q.Get("q")),
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []job.Status
		for _, part := range strings.Split(raw, ",") {
			status := job.Status(strings.TrimSpace(part))
			if !job.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part, xerrors.WithMetadata("field", "status"))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if raw := q.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result 必须是布尔值", xerrors.WithMetadata("field", "has_result"))
		}
		opts = append(opts, job.WithResultPresence(hasResult))
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	}
	return opts, nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptionsFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.deps.Jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptionsFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.deps.Jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLotteryTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.deps.Draws.LotteryTypes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lottery_types": types})
}

func (s *Server) handleDrawStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Draws.Statistics(r.Context(), chi.URLParam(r, "lotteryType"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLatestDraw(w http.ResponseWriter, r *http.Request) {
	latest, err := s.deps.Draws.Latest(r.Context(), chi.URLParam(r, "lotteryType"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"schedules": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.deps.Scheduler.Entries()})
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "未启用定时任务"))
		return
	}
	submitted, err := s.deps.Scheduler.RunNow(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}
