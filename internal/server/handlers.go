package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rezonia/erechnung/pkg/erechnung"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Time:     s.now().UTC().Format(time.RFC3339),
		Delivery: s.service.Orchestrator() != nil,
	})
}

func (s *Server) bindInvoice(c *gin.Context) (*erechnung.Invoice, bool) {
	var inv erechnung.Invoice
	if err := c.ShouldBindJSON(&inv); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid invoice JSON", Details: err.Error()})
		return nil, false
	}
	return &inv, true
}

func attachment(c *gin.Context, filename, mime string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, mime, data)
}

func (s *Server) handleGenerate(c *gin.Context) {
	format, err := erechnung.ParseFormat(c.Param("format"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	opts := erechnung.GenerateOptions{
		RoutingID:      c.Query("routingId"),
		BuyerReference: c.Query("buyerReference"),
	}
	if p := c.Query("profile"); p != "" {
		if opts.Profile, err = erechnung.ParseProfile(p); err != nil {
			s.respondError(c, err)
			return
		}
	}

	inv, ok := s.bindInvoice(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	art, err := s.service.Generate(ctx, inv, format, opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	attachment(c, art.Filename, art.MimeType, art.Content)
}

func (s *Server) handleValidate(c *gin.Context) {
	standard, err := erechnung.ParseStandard(c.Query("standard"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	inv, ok := s.bindInvoice(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	c.JSON(http.StatusOK, s.service.Validate(ctx, inv, standard))
}

func (s *Server) handleValidateSummary(c *gin.Context) {
	var req SummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	standard, err := erechnung.ParseStandard(req.Standard)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	c.JSON(http.StatusOK, s.service.ComplianceSummary(ctx, req.Invoices, standard))
}

func (s *Server) handleValidateXML(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}

	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	c.JSON(http.StatusOK, s.service.ValidateXML(ctx, body))
}

func (s *Server) handleExplain(c *gin.Context) {
	var req ExplainRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Invoice == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invoice is required"})
		return
	}
	standard, err := erechnung.ParseStandard(req.Standard)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	report := s.service.Validate(ctx, req.Invoice, standard)
	remediation, err := s.service.Explain(ctx, req.Invoice, report)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ExplainResponse{Report: report, Remediation: remediation})
}

func (s *Server) handleExport(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid export request", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	job, err := s.service.ExportBatch(ctx, req.Invoices, req.Options)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("X-Batch-Id", job.ID)
	c.Header("X-Processed-Invoices", strconv.Itoa(job.ProcessedInvoices))
	c.Header("X-Failed-Invoices", strconv.Itoa(job.FailedInvoices))
	attachment(c, "erechnung_batch_"+job.ID+".zip", "application/zip", job.Archive)
}

func (s *Server) handleExportValidate(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid export request", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.service.ValidateBatch(req.Invoices, req.Options))
}

func (s *Server) handleDeliver(c *gin.Context) {
	var req erechnung.DeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid delivery request", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	attempts, err := s.service.Deliver(ctx, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	status := http.StatusOK
	if req.Async {
		status = http.StatusAccepted
	}
	c.JSON(status, DeliveryResponse{Attempts: attempts})
}

func (s *Server) handleListDeliveries(c *gin.Context) {
	invoiceID := c.Query("invoiceId")
	if invoiceID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invoiceId is required"})
		return
	}
	attempts, err := s.service.DeliveryAttempts(c.Request.Context(), invoiceID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeliveryResponse{Attempts: attempts})
}

func (s *Server) handleGetDelivery(c *gin.Context) {
	attempt, err := s.service.DeliveryAttempt(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func (s *Server) handleCancelDelivery(c *gin.Context) {
	attempt, err := s.service.CancelDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func (s *Server) handleListChannels(c *gin.Context) {
	channels, err := s.service.DeliveryChannels(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, toChannelResponse(ch))
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

func (s *Server) handleSaveChannel(c *gin.Context) {
	var ch erechnung.DeliveryChannel
	if err := c.ShouldBindJSON(&ch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid channel", Details: err.Error()})
		return
	}
	ch.ID = c.Param("id")
	if err := s.service.SaveDeliveryChannel(c.Request.Context(), &ch); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toChannelResponse(&ch))
}

func (s *Server) handleListRules(c *gin.Context) {
	rules, err := s.service.DeliveryRules(c.Request.Context(), c.Query("tenantId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) handleCreateRule(c *gin.Context) {
	var rule erechnung.DeliveryRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid rule", Details: err.Error()})
		return
	}
	if err := s.service.CreateDeliveryRule(c.Request.Context(), &rule); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleSetRuleActive(c *gin.Context) {
	var req RuleStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
		return
	}
	if err := s.service.SetDeliveryRuleActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "active": *req.Active})
}
