package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/db"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/monitor"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/report"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Submitter accepts new studies.
type Submitter interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResponse, error)
}

// Failer lets an operator stop an import.
type Failer interface {
	MarkFailed(ctx context.Context, studyID, reason string) (*monitor.Result, error)
}

type Handler struct {
	submitter Submitter
	failer    Failer
	repo      db.Repository
	cfg       *config.Config
	log       zerolog.Logger
}

func NewHandler(
	submitter Submitter,
	failer Failer,
	repo db.Repository,
	cfg *config.Config,
) *Handler {
	return &Handler{
		submitter: submitter,
		failer:    failer,
		repo:      repo,
		cfg:       cfg,
		log:       logger.For("api"),
	}
}

func (h *Handler) SubmitStudy(c *gin.Context) {
	var req model.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request body", Code: errors.CodeInvalid})
		return
	}

	resp, err := h.submitter.Submit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "Failed to submit study")
		return
	}

	// A study whose job could not be started is still recorded; its FAILED
	// status travels in the body.
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) GetStudy(c *gin.Context) {
	study, err := h.repo.Get(c.Request.Context(), c.Param("study_id"))
	if err != nil {
		h.respondError(c, err, "Failed to get study")
		return
	}
	c.JSON(http.StatusOK, study)
}

func (h *Handler) ListStudies(c *gin.Context) {
	submitterID := c.Param("submitter_id")

	var since time.Time
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "since must be an RFC 3339 timestamp", Code: errors.CodeInvalid, Field: "since"})
			return
		}
		since = t
	}

	var limit int
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "limit must be a non-negative integer", Code: errors.CodeInvalid, Field: "limit"})
			return
		}
		limit = n
	}

	studies, err := h.repo.ListBySubmitter(c.Request.Context(), submitterID, since, limit)
	if err != nil {
		h.respondError(c, err, "Failed to list studies")
		return
	}
	if studies == nil {
		studies = []*model.Study{}
	}

	c.JSON(http.StatusOK, gin.H{
		"submitter_id": submitterID,
		"studies":      studies,
	})
}

func (h *Handler) FailStudy(c *gin.Context) {
	var req model.FailStudyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request body", Code: errors.CodeInvalid})
			return
		}
	}

	studyID := c.Param("study_id")
	res, err := h.failer.MarkFailed(c.Request.Context(), studyID, req.Reason)
	if err != nil {
		h.respondError(c, err, "Failed to mark study failed")
		return
	}

	if res.Outcome == monitor.OutcomeNoop {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Study is not importing",
			"code":   errors.CodeConflict,
			"status": res.Study.Status,
		})
		return
	}

	h.log.Info().Str("study_id", studyID).Str("outcome", string(res.Outcome)).Msg("Operator fail request handled")
	c.JSON(http.StatusOK, res.Study)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	})
}

func (h *Handler) respondError(c *gin.Context, err error, msg string) {
	status := errors.HTTPStatus(err)
	body := model.ErrorResponse{Error: err.Error(), Code: errors.Code(err)}

	var ve errors.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		report.ReportError(c.Request.Context(), err, map[string]interface{}{"path": c.FullPath()})
		if status == http.StatusInternalServerError {
			body.Error = "Internal server error"
		}
	}
	c.JSON(status, body)
}
