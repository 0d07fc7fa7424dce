package web

import (
	"cmp"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/exporter/internal/core"
	"github.com/JonMunkholm/exporter/internal/logging"
	"github.com/go-chi/chi/v5"
)

// progressResponse is the progress block of a status response.
type progressResponse struct {
	TotalRows     int64 `json:"totalRows"`
	ProcessedRows int64 `json:"processedRows"`
	Percentage    int   `json:"percentage"`
}

// statusResponse is the JSON body of GET /exports/{exportId}/status.
type statusResponse struct {
	ExportID    string           `json:"exportId"`
	Status      core.JobStatus   `json:"status"`
	Progress    progressResponse `json:"progress"`
	Error       *string          `json:"error"`
	ErrorCode   string           `json:"errorCode,omitempty"`
	ErrorAction string           `json:"errorAction,omitempty"`
	CreatedAt   string           `json:"createdAt"`
	CompletedAt *string          `json:"completedAt"`
}

func newStatusResponse(job core.JobSnapshot) statusResponse {
	resp := statusResponse{
		ExportID: job.ID,
		Status:   job.Status,
		Progress: progressResponse{
			TotalRows:     job.Progress.TotalRows,
			ProcessedRows: job.Progress.ProcessedRows,
			Percentage:    job.Percent(),
		},
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.Error != "" {
		msg := job.Error
		resp.Error = &msg
		if cause := errorString(job.Error); core.IsUserFacing(cause) {
			um := core.MapError(cause)
			resp.ErrorCode, resp.ErrorAction = um.Code, um.Action
		}
	}
	if job.CompletedAt != nil {
		ts := job.CompletedAt.UTC().Format(time.RFC3339Nano)
		resp.CompletedAt = &ts
	}
	return resp
}

// errorString lets a stored failure reason flow through core.MapError.
type errorString string

func (e errorString) Error() string { return string(e) }

// handleHealth reports liveness, admission capacity and job counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"admission": s.service.AdmissionStatus(),
		"jobs":      s.service.JobCounts(),
	})
}

// handleSubmitExport handles POST /exports/csv.
// Parameters come from the query string:
// country_code, subscription_tier, min_ltv, columns, delimiter, quoteChar.
func (s *Server) handleSubmitExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	format, err := core.ParseFormatOptions(q.Get("delimiter"), q.Get("quoteChar"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	filters := map[string]string{}
	for _, key := range []string{core.FilterCountryCode, core.FilterSubscriptionTier, core.FilterMinLTV} {
		if v := q.Get(key); v != "" {
			filters[key] = v
		}
	}

	var columns []string
	if raw := q.Get("columns"); raw != "" {
		columns = strings.Split(raw, ",")
	}

	ctx := core.ContextWithRequestMeta(r.Context(), requestMeta(r))
	res, err := s.service.Submit(ctx, filters, columns, format)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/exports/"+res.ID+"/status")
	writeJSON(w, http.StatusAccepted, res)
}

// handleExportStatus handles GET /exports/{exportId}/status.
func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetStatus(chi.URLParam(r, "exportId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(job))
}

// handleListExports handles GET /exports, newest first.
func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	jobs := s.service.List()
	slices.SortFunc(jobs, func(a, b core.JobSnapshot) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})

	out := make([]statusResponse, len(jobs))
	for i, job := range jobs {
		out[i] = newStatusResponse(job)
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": out})
}

// handleCancelExport handles DELETE /exports/{exportId}.
// Cancelling a finished export is accepted and changes nothing.
func (s *Server) handleCancelExport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RequestCancel(chi.URLParam(r, "exportId")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownload handles GET /exports/{exportId}/download.
// A Range header selects a partial response and takes precedence over
// gzip; otherwise the artifact is compressed when the client accepts gzip.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "exportId")
	logger := logging.WithFields(r.Context(), "export_id", id)

	art, err := s.service.OpenArtifact(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer art.Close()

	h := w.Header()
	h.Set("Content-Type", "text/csv")
	h.Set("Content-Disposition", `attachment; filename="`+art.Name+`"`)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Last-Modified", art.ModTime.UTC().Format(http.TimeFormat))

	var (
		n    int64
		mode string
	)
	if header := r.Header.Get("Range"); header != "" {
		br, ok, err := core.ParseByteRange(header, art.Size)
		if err != nil {
			h.Set("Content-Range", "bytes */"+strconv.FormatInt(art.Size, 10))
			h.Del("Content-Disposition")
			respondError(w, r, err)
			return
		}
		if ok {
			h.Set("Content-Range", br.ContentRange(art.Size))
			h.Set("Content-Length", strconv.FormatInt(br.Length(), 10))
			w.WriteHeader(http.StatusPartialContent)
			mode = "range"
			n, err = art.CopyRange(w, br)
			s.logDelivery(logger, mode, n, err)
			return
		}
	}

	if acceptsGzip(r) {
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		w.WriteHeader(http.StatusOK)
		mode = "gzip"
		n, err = art.CopyGzip(w)
	} else {
		h.Set("Content-Length", strconv.FormatInt(art.Size, 10))
		w.WriteHeader(http.StatusOK)
		mode = "full"
		n, err = art.CopyFull(w)
	}
	s.logDelivery(logger, mode, n, err)
}

// logDelivery records the outcome of a download. Errors after the
// headers are sent usually mean the client went away.
func (s *Server) logDelivery(logger *slog.Logger, mode string, n int64, err error) {
	if err != nil {
		logger.Warn("download interrupted", "mode", mode, "bytes", n, "error", err)
		return
	}
	logger.Info("download served", "mode", mode, "bytes", n)
}

// acceptsGzip reports whether Accept-Encoding allows gzip.
func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		q, found := strings.CutPrefix(strings.ReplaceAll(params, " ", ""), "q=")
		if !found {
			return true
		}
		v, err := strconv.ParseFloat(q, 64)
		return err == nil && v > 0
	}
	return false
}
