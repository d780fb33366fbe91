package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/adlens/internal/api/response"
	"github.com/kiranshivaraju/adlens/internal/jobs"
	"github.com/kiranshivaraju/adlens/internal/store"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"go.uber.org/zap"
)

// multipart overhead allowed on top of the file size limit
const formOverhead = 1 << 20

// JobService is what the job endpoints need from the lifecycle manager.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*models.Job, error)
	GetStatus(ctx context.Context, jobID string) (*models.JobStatusView, error)
	GetResult(ctx context.Context, jobID string) (*models.JobResult, error)
	List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	Records(ctx context.Context, jobID string, page, limit int) ([]models.Record, int, error)
	Remove(ctx context.Context, jobID string) (bool, error)
}

// JobHandler serves /api/v1/jobs.
type JobHandler struct {
	svc       JobService
	validate  *validator.Validate
	maxUpload int64
	logger    *zap.Logger
}

func NewJobHandler(svc JobService, maxUpload int64, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{svc: svc, validate: newValidator(), maxUpload: maxUpload, logger: logger}
}

type uploadForm struct {
	JobID string `param:"job_id" validate:"omitempty,max=128,jobid"`
}

type listQuery struct {
	Status string `param:"status" validate:"omitempty,oneof=pending processing completed failed"`
	Page   int    `param:"page"   validate:"gte=0"`
	Limit  int    `param:"limit"  validate:"gte=0,lte=100"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Submit handles POST /api/v1/jobs (multipart: file, optional job_id).
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+formOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge,
				"Upload exceeds the size limit", nil)
			return
		}
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
			"Expected a multipart form with a file field", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Invalid(w, "Invalid upload", map[string]string{"file": "is required"})
		return
	}
	defer file.Close()

	form := uploadForm{JobID: r.FormValue("job_id")}
	if err := h.validate.Struct(form); err != nil {
		response.Invalid(w, "Invalid upload", fieldErrors(err))
		return
	}
	if form.JobID == "" {
		form.JobID = uuid.NewString()
	}

	job, err := h.svc.Submit(r.Context(), jobs.SubmitRequest{
		JobID:    form.JobID,
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.Accepted(w, submitResponse{JobID: job.ID, Status: job.Status})
}

// List handles GET /api/v1/jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseListQuery(w, r)
	if !ok {
		return
	}
	page, limit, _ := store.Paginate(q.Page, q.Limit)

	list, total, err := h.svc.List(r.Context(), store.JobFilter{Status: q.Status, Page: page, Limit: limit})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]models.JobStatusView, 0, len(list))
	for _, j := range list {
		views = append(views, j.StatusView())
	}
	response.Collection(w, views, response.NewPaginationMeta(page, limit, total))
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, view)
}

// Result handles GET /api/v1/jobs/{jobID}/result.
func (h *JobHandler) Result(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetResult(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, res)
}

// Records handles GET /api/v1/jobs/{jobID}/records.
func (h *JobHandler) Records(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseListQuery(w, r)
	if !ok {
		return
	}
	page, limit, _ := store.Paginate(q.Page, q.Limit)

	recs, total, err := h.svc.Records(r.Context(), chi.URLParam(r, "jobID"), page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Collection(w, recs, response.NewPaginationMeta(page, limit, total))
}

// Delete handles DELETE /api/v1/jobs/{jobID}.
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.Remove(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !removed {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Job not found", nil)
		return
	}
	response.NoContent(w)
}

func (h *JobHandler) parseListQuery(w http.ResponseWriter, r *http.Request) (listQuery, bool) {
	query := r.URL.Query()
	q := listQuery{Status: query.Get("status")}
	details := map[string]string{}

	for name, dst := range map[string]*int{"page": &q.Page, "limit": &q.Limit} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			details[name] = "must be an integer"
			continue
		}
		*dst = n
	}
	if len(details) == 0 {
		if err := h.validate.Struct(q); err != nil {
			details = fieldErrors(err)
		}
	}
	if len(details) > 0 {
		response.Invalid(w, "Invalid query parameters", details)
		return q, false
	}
	return q, true
}

func (h *JobHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *jobs.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Invalid(w, "Invalid upload", map[string]string{verr.Field: verr.Reason})
	case errors.Is(err, jobs.ErrValidation):
		response.Error(w, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Job not found", nil)
	case errors.Is(err, jobs.ErrNotReady):
		response.Error(w, http.StatusConflict, response.CodeNotReady,
			"Job has not completed yet; poll its status and retry", nil)
	case errors.Is(err, jobs.ErrDuplicateJob):
		response.Error(w, http.StatusConflict, response.CodeDuplicateJob, "A job with this id already exists", nil)
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		response.Error(w, http.StatusInternalServerError, response.CodeInternal,
			"An unexpected error occurred", nil)
	}
}
