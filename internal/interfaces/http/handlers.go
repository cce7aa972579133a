package http

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/application/rules"
	"github.com/garyjia/prior-auth/internal/application/workflow"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/rule"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
	"github.com/garyjia/prior-auth/internal/infrastructure/storage"
)

const reportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	orchestrator workflow.Orchestrator
	engine       rules.Engine
	reporter     ReportBuilder
	storage      port.DocumentStorage
	logger       Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	orchestrator workflow.Orchestrator,
	engine rules.Engine,
	reporter ReportBuilder,
	storage port.DocumentStorage,
	logger Logger,
) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		engine:       engine,
		reporter:     reporter,
		storage:      storage,
		logger:       logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// StartAuthorizationRequest is the body of POST /api/authorizations
type StartAuthorizationRequest struct {
	Actor   string                       `json:"actor" binding:"required"`
	Request *entity.AuthorizationRequest `json:"request" binding:"required"`
}

// ExecuteActionRequest is the body of POST /api/authorizations/:id/actions
type ExecuteActionRequest struct {
	Action   domainwf.Action        `json:"action" binding:"required"`
	Actor    string                 `json:"actor" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SubmitDocumentsRequest is the JSON body of POST /api/authorizations/:id/documents
type SubmitDocumentsRequest struct {
	Actor     string            `json:"actor" binding:"required"`
	Documents []entity.Document `json:"documents" binding:"required,min=1,dive"`
}

// ValidationResponse reports the outcome of a dry-run request validation
type ValidationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// StartAuthorization handles POST /api/authorizations
func (h *Handlers) StartAuthorization(c *gin.Context) {
	var body StartAuthorizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}

	req, err := h.orchestrator.StartWorkflow(c.Request.Context(), body.Request, body.Actor)
	if err != nil {
		h.fail(c, "Failed to start workflow", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

// ValidateAuthorization handles POST /api/authorizations/validate. Nothing is tracked or stored.
func (h *Handlers) ValidateAuthorization(c *gin.Context) {
	var req entity.AuthorizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	result := ValidationResponse{Valid: true}
	if err := h.engine.ValidateRequest(c.Request.Context(), &req); err != nil {
		result.Valid = false
		for _, e := range multierr.Errors(err) {
			result.Errors = append(result.Errors, e.Error())
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// GetAuthorization handles GET /api/authorizations/:id
func (h *Handlers) GetAuthorization(c *gin.Context) {
	status, err := h.orchestrator.GetWorkflowStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get workflow status", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: status})
}

// ExecuteAction handles POST /api/authorizations/:id/actions
func (h *Handlers) ExecuteAction(c *gin.Context) {
	var body ExecuteActionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	action := domainwf.Action(strings.ToUpper(string(body.Action)))
	if !action.IsValid() {
		h.badRequest(c, fmt.Errorf("unknown action %q", body.Action))
		return
	}

	result, err := h.orchestrator.ExecuteAction(c.Request.Context(), c.Param("id"), action, body.Actor, body.Metadata)
	if err != nil {
		h.fail(c, "Failed to execute action", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// SubmitDocuments handles POST /api/authorizations/:id/documents. Accepts either a JSON
// body describing already stored documents or a multipart upload of "file" parts.
func (h *Handlers) SubmitDocuments(c *gin.Context) {
	id := c.Param("id")

	var (
		actor string
		docs  []entity.Document
		err   error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		actor, docs, err = h.receiveUploads(c, id)
	} else {
		var body SubmitDocumentsRequest
		if err = c.ShouldBindJSON(&body); err == nil {
			actor, docs = body.Actor, body.Documents
		}
	}
	if err != nil {
		if errors.Is(err, errStorageDisabled) {
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: err.Error()})
			return
		}
		h.badRequest(c, err)
		return
	}

	result, err := h.orchestrator.SubmitDocuments(c.Request.Context(), id, docs, actor)
	if err != nil {
		h.fail(c, "Failed to submit documents", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

var errStorageDisabled = errors.New("document uploads are disabled")

// receiveUploads stores every uploaded file and describes it as a document
func (h *Handlers) receiveUploads(c *gin.Context, authorizationID string) (string, []entity.Document, error) {
	if h.storage == nil {
		return "", nil, errStorageDisabled
	}

	form, err := c.MultipartForm()
	if err != nil {
		return "", nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	actor := c.PostForm("actor")
	docType := c.PostForm("type")
	files := form.File["file"]
	if actor == "" || docType == "" || len(files) == 0 {
		return "", nil, errors.New("actor, type and at least one file are required")
	}

	now := time.Now().UTC()
	docs := make([]entity.Document, 0, len(files))
	for _, fh := range files {
		content, err := readUpload(fh)
		if err != nil {
			return "", nil, err
		}

		docID := uuid.NewString()
		path := storage.DocumentPath(authorizationID, docID, fh.Filename)
		if err := h.storage.Save(c.Request.Context(), path, content); err != nil {
			return "", nil, fmt.Errorf("store %s: %w", fh.Filename, err)
		}

		docs = append(docs, entity.Document{
			ID:          docID,
			Type:        docType,
			FileName:    fh.Filename,
			StoragePath: path,
			MimeType:    fh.Header.Get("Content-Type"),
			UploadedAt:  now,
		})
	}
	return actor, docs, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return content, nil
}

// GetMetrics handles GET /api/metrics
func (h *Handlers) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.orchestrator.GetPerformanceMetrics()})
}

// DownloadReport handles GET /api/metrics/report
func (h *Handlers) DownloadReport(c *gin.Context) {
	if h.reporter == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "reporting is disabled"})
		return
	}

	now := time.Now().UTC()
	data, err := h.reporter.Build(c.Request.Context(), h.orchestrator.GetPerformanceMetrics(), now)
	if err != nil {
		h.fail(c, "Failed to build metrics report", err)
		return
	}

	filename := fmt.Sprintf("prior-auth-metrics-%s.xlsx", now.Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, reportContentType, data)
}

// ListRules handles GET /api/rules
func (h *Handlers) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.engine.Rules()})
}

// UpdateRule handles PUT /api/rules/:id
func (h *Handlers) UpdateRule(c *gin.Context) {
	var r rule.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		h.badRequest(c, err)
		return
	}

	id := c.Param("id")
	if err := h.engine.UpdateRule(id, r); err != nil {
		h.fail(c, "Failed to update rule", err)
		return
	}

	updated, _ := h.engine.Rule(id)
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	h.logger.Errorw("Invalid request body", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw(msg, "path", c.FullPath(), "id", c.Param("id"), "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// statusFor maps application errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound), errors.Is(err, rules.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrWorkflowExists), errors.Is(err, rules.ErrRuleExists):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrInvalidTransition), errors.Is(err, workflow.ErrStepMismatch):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrGuardFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrInvalidRequest),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, rules.ErrUnknownPath),
		errors.Is(err, rules.ErrUnsupportedOperator),
		errors.Is(err, rules.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, workflow.ErrClosed), errors.Is(err, workflow.ErrNoDocumentValidator):
		return http.StatusServiceUnavailable
	case errors.Is(err, domainwf.ErrSideEffectFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
