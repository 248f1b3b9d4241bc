package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consulta-go/internal/memory"
	"consulta-go/internal/middleware"
	"consulta-go/internal/schema"
	"consulta-go/internal/service"
)

// ConsultaService is the part of service.ConsultaService the handlers use.
type ConsultaService interface {
	Answer(ctx context.Context, req service.AnswerRequest) (*service.AnswerResponse, error)
	ErrorResponse(err error, includeDetails bool) (int, string)
	History(tenant, session string) memory.Snapshot
	ClearHistory(tenant, session string) int
	ResolveTenant(slug string) string
	ClearCache(ctx context.Context, expiredOnly bool) (int, error)
	CacheSize(ctx context.Context) (int, error)
	Schemas() ([]string, error)
	Schema(slug string) (*schema.Descriptor, error)
}

var _ ConsultaService = (*service.ConsultaService)(nil)

// ConsultaHandler serves the question endpoints.
type ConsultaHandler struct {
	svc    ConsultaService
	logger *zap.Logger
}

// NewConsultaHandler creates the handler.
func NewConsultaHandler(svc ConsultaService, logger *zap.Logger) *ConsultaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultaHandler{svc: svc, logger: logger}
}

// ConsultaRequest is the body of the consulta endpoints.
type ConsultaRequest struct {
	Question       string `json:"question" example:"Total faturado este mês"`
	Tenant         string `json:"tenant,omitempty" example:"loja"`
	SessionID      string `json:"session_id,omitempty"`
	IncludeDetails bool   `json:"include_details,omitempty"`
}

// ClearCacheRequest is the optional body of /api/limpar-cache.
type ClearCacheRequest struct {
	ExpiredOnly bool `json:"expired_only" form:"expired_only"`
}

// ClearHistoryRequest selects what /api/limpar-historico clears. An empty
// session clears every session of the tenant.
type ClearHistoryRequest struct {
	Tenant    string `json:"tenant" form:"tenant"`
	SessionID string `json:"session_id" form:"session_id"`
}

func (h *ConsultaHandler) invalidRequest(c *gin.Context, what string, err error, includeDetails bool) {
	qe := &service.QueryError{
		Kind:    service.KindValidation,
		Message: what + " inválido.",
		Details: err.Error(),
	}
	c.JSON(http.StatusBadRequest, gin.H{"answer": qe.UserMessage(includeDetails), "error_type": qe.Kind})
}

// bindMaintenance reads query parameters and, when present, a JSON body.
func (h *ConsultaHandler) bindMaintenance(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		h.invalidRequest(c, "parâmetro da requisição", err, false)
		return false
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(req); err != nil {
			h.invalidRequest(c, "corpo da requisição", err, false)
			return false
		}
	}
	return true
}

func (h *ConsultaHandler) bindQuestion(c *gin.Context) (service.AnswerRequest, bool) {
	var req ConsultaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.invalidRequest(c, "corpo da requisição", err, req.IncludeDetails)
		return service.AnswerRequest{}, false
	}
	return service.AnswerRequest{
		Question:       req.Question,
		Tenant:         req.Tenant,
		SessionID:      req.SessionID,
		IncludeDetails: req.IncludeDetails,
	}, true
}

func (h *ConsultaHandler) writeError(c *gin.Context, err error, includeDetails bool) {
	status, message := h.svc.ErrorResponse(err, includeDetails)
	body := gin.H{"answer": message}
	var qe *service.QueryError
	if errors.As(err, &qe) {
		body["error_type"] = qe.Kind
		if qe.RetryAfter > 0 {
			body["retry_after"] = int(qe.RetryAfter.Seconds())
		}
	}
	c.JSON(status, body)
}

// Consulta answers one question.
func (h *ConsultaHandler) Consulta(c *gin.Context) {
	req, ok := h.bindQuestion(c)
	if !ok {
		return
	}
	h.answer(c, req)
}

// ConsultaMCP answers one question and adds a chart suggestion.
func (h *ConsultaHandler) ConsultaMCP(c *gin.Context) {
	req, ok := h.bindQuestion(c)
	if !ok {
		return
	}
	req.WithChart = true
	h.answer(c, req)
}

func (h *ConsultaHandler) answer(c *gin.Context, req service.AnswerRequest) {
	resp, err := h.svc.Answer(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, req.IncludeDetails)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ConsultaStreaming answers one question as server-sent events: one
// "status" event per pipeline step, then "answer" or "error".
func (h *ConsultaHandler) ConsultaStreaming(c *gin.Context) {
	req, ok := h.bindQuestion(c)
	if !ok {
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	req.Progress = func(step service.Step) {
		c.SSEvent("status", step)
		c.Writer.Flush()
	}

	resp, err := h.svc.Answer(c.Request.Context(), req)
	if err != nil {
		status, message := h.svc.ErrorResponse(err, req.IncludeDetails)
		c.SSEvent("error", gin.H{"answer": message, "status": status})
		c.Writer.Flush()
		return
	}
	c.SSEvent("answer", resp)
	c.Writer.Flush()
}

// History returns the conversation, focus and suggestions of a session.
func (h *ConsultaHandler) History(c *gin.Context) {
	snapshot := h.svc.History(c.Query("tenant"), c.Query("session_id"))
	c.JSON(http.StatusOK, snapshot)
}

// ClearCache drops cached answers.
func (h *ConsultaHandler) ClearCache(c *gin.Context) {
	var req ClearCacheRequest
	if !h.bindMaintenance(c, &req) {
		return
	}

	removed, err := h.svc.ClearCache(c.Request.Context(), req.ExpiredOnly)
	if err != nil {
		h.logger.Error("failed to clear cache", zap.Error(err))
		h.writeError(c, err, false)
		return
	}
	remaining, err := h.svc.CacheSize(c.Request.Context())
	if err != nil {
		h.logger.Warn("failed to read cache size", zap.Error(err))
	}

	h.logger.Info("cache cleared via API",
		zap.String("principal", middleware.PrincipalFromContext(c)),
		zap.Bool("expired_only", req.ExpiredOnly),
		zap.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{
		"answer":    "🧹 Cache limpo com sucesso.",
		"removed":   removed,
		"remaining": remaining,
	})
}

// ClearHistory forgets a session or every session of a tenant.
func (h *ConsultaHandler) ClearHistory(c *gin.Context) {
	var req ClearHistoryRequest
	if !h.bindMaintenance(c, &req) {
		return
	}
	tenant := h.svc.ResolveTenant(req.Tenant)
	if !middleware.AllowsTenant(c, tenant) {
		c.JSON(http.StatusForbidden, gin.H{"answer": "🔒 Permissão insuficiente para este tenant."})
		return
	}

	cleared := h.svc.ClearHistory(tenant, req.SessionID)
	h.logger.Info("history cleared via API",
		zap.String("principal", middleware.PrincipalFromContext(c)),
		zap.String("tenant", tenant),
		zap.String("session", req.SessionID),
		zap.Int("sessions", cleared))
	c.JSON(http.StatusOK, gin.H{
		"answer":   "🧹 Histórico limpo com sucesso.",
		"sessions": cleared,
	})
}

// Schemas lists the schema slugs available.
func (h *ConsultaHandler) Schemas(c *gin.Context) {
	slugs, err := h.svc.Schemas()
	if err != nil {
		h.logger.Error("failed to list schemas", zap.Error(err))
		h.writeError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schemas": slugs})
}

// Schema returns one schema descriptor as stored on disk.
func (h *ConsultaHandler) Schema(c *gin.Context) {
	slug := strings.TrimSpace(c.Param("slug"))
	d, err := h.svc.Schema(slug)
	if err != nil {
		h.writeError(c, service.SchemaNotFound(slug, err), false)
		return
	}
	data, err := schema.Encode(d)
	if err != nil {
		h.writeError(c, err, false)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}
