// Package api provides the HTTP surface of the job control plane.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"queryplane/internal/domain"
	"queryplane/internal/jobs"
)

// defaultWaitTimeout bounds a completion long-poll.
const defaultWaitTimeout = 60 * time.Second

// Handler serves the job endpoints.
type Handler struct {
	jobs   *jobs.Service
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *jobs.Service, logger *slog.Logger) *Handler {
	return &Handler{jobs: svc, logger: logger.With("component", "api")}
}

// Routes mounts all job endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.submitJob)
		r.Post("/download", h.submitDownload)
		r.Get("/", h.listJobs)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", h.getJob)
			r.Get("/data", h.getJobData)
			r.Get("/profile", h.getProfile)
			r.Post("/cancel", h.cancelJob)
			r.Get("/wait", h.waitForJob)
		})
	})
	r.Route("/datasets", func(r chi.Router) {
		r.Get("/jobs", h.jobsForDataset)
		r.Get("/jobs/count", h.countForDataset)
		r.Post("/jobs/counts", h.countsForDatasets)
		r.Get("/parents/jobs", h.jobsForParent)
	})
}

type submitRequest struct {
	SQL            string   `json:"sql"`
	User           string   `json:"user"`
	Context        []string `json:"context,omitempty"`
	QueryType      string   `json:"queryType,omitempty"`
	DatasetPath    string   `json:"datasetPath,omitempty"`
	DatasetVersion string   `json:"datasetVersion,omitempty"`
	Exclusions     []string `json:"exclusions,omitempty"`
}

type submitDownloadRequest struct {
	SQL        string `json:"sql"`
	User       string `json:"user"`
	DownloadID string `json:"downloadId"`
	FileName   string `json:"fileName"`
}

type jobResponse struct {
	ID       domain.JobID         `json:"id"`
	State    domain.JobState      `json:"state"`
	Attempts []*domain.JobAttempt `json:"attempts"`
}

func jobToResponse(job *domain.Job) jobResponse {
	return jobResponse{ID: job.ID(), State: job.State(), Attempts: job.Attempts()}
}

func entryToResponse(entry domain.JobEntry) jobResponse {
	attempt := entry.Result.LastAttempt()
	state := domain.JobStateNotSubmitted
	if attempt != nil {
		state = attempt.State
	}
	return jobResponse{ID: entry.ID, State: state, Attempts: entry.Result.Attempts}
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}

	queryType := domain.QueryType(req.QueryType)
	if req.QueryType == "" {
		queryType = domain.QueryTypeUIRun
	}

	job, err := h.jobs.Submit(r.Context(), jobs.SubmitRequest{
		SQL:            req.SQL,
		User:           req.User,
		Context:        req.Context,
		QueryType:      queryType,
		DatasetPath:    parsePath(req.DatasetPath),
		DatasetVersion: req.DatasetVersion,
		Exclusions:     req.Exclusions,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (h *Handler) submitDownload(w http.ResponseWriter, r *http.Request) {
	var req submitDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if req.DownloadID == "" || req.FileName == "" {
		h.writeError(w, domain.ErrValidation("downloadId and fileName are required"))
		return
	}

	job, err := h.jobs.SubmitDownload(r.Context(), req.SQL, req.User, req.DownloadID, req.FileName, nil)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (h *Handler) getJobData(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 500)

	page, err := h.jobs.GetJobData(r.Context(), id, offset, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))
	attempt := queryInt(r, "attempt", 0)

	profile, err := h.jobs.GetProfile(r.Context(), id, attempt)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))
	user := r.URL.Query().Get("user")

	if err := h.jobs.Cancel(r.Context(), user, id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancel requested"})
}

// completionWaiter bridges the fan-out callback to the long-poll handler.
type completionWaiter chan *domain.Job

func (w completionWaiter) QueryCompleted(job *domain.Job) {
	select {
	case w <- job:
	default:
	}
}

// waitForJob long-polls until the job completes or the wait times out.
func (h *Handler) waitForJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))

	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, defaultWaitTimeout)
		defer cancel()
	}

	waiter := make(completionWaiter, 1)
	if err := h.jobs.RegisterListener(ctx, id, waiter); err != nil {
		h.writeError(w, err)
		return
	}

	select {
	case job := <-waiter:
		h.writeJSON(w, http.StatusOK, jobToResponse(job))
	case <-ctx.Done():
		h.writeJSON(w, http.StatusRequestTimeout, map[string]string{
			"error": "job " + string(id) + " did not complete before the wait timed out",
		})
	}
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := domain.FindJobsRequest{
		Filter:     q.Get("filter"),
		SortColumn: q.Get("sort"),
		SortOrder:  domain.SortDescending,
		Offset:     queryInt(r, "offset", 0),
		Limit:      queryInt(r, "limit", 100),
		User:       q.Get("user"),
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		req.SortOrder = domain.SortAscending
	}

	entries, err := h.jobs.FindJobs(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entriesToResponse(entries))
}

func (h *Handler) countForDataset(w http.ResponseWriter, r *http.Request) {
	path := parsePath(r.URL.Query().Get("path"))
	if len(path) == 0 {
		h.writeError(w, domain.ErrValidation("path query parameter is required"))
		return
	}
	count, err := h.jobs.CountForDataset(r.Context(), path, r.URL.Query().Get("version"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) countsForDatasets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths [][]string `json:"paths"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	counts, err := h.jobs.CountsForDatasets(r.Context(), req.Paths)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]int{"counts": counts})
}

func (h *Handler) jobsForDataset(w http.ResponseWriter, r *http.Request) {
	path := parsePath(r.URL.Query().Get("path"))
	if len(path) == 0 {
		h.writeError(w, domain.ErrValidation("path query parameter is required"))
		return
	}
	entries, err := h.jobs.JobsForDataset(r.Context(), path, r.URL.Query().Get("version"), queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entriesToResponse(entries))
}

func (h *Handler) jobsForParent(w http.ResponseWriter, r *http.Request) {
	path := parsePath(r.URL.Query().Get("path"))
	if len(path) == 0 {
		h.writeError(w, domain.ErrValidation("path query parameter is required"))
		return
	}
	entries, err := h.jobs.JobsForParent(r.Context(), path, queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entriesToResponse(entries))
}

func entriesToResponse(entries []domain.JobEntry) []jobResponse {
	out := make([]jobResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entryToResponse(entry))
	}
	return out
}

func parsePath(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
