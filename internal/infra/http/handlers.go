package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"verifactu/internal/domain"
	"verifactu/internal/usecase"
)

type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Reasons []string `json:"reasons,omitempty"`
}

type recordResponse struct {
	ID               int64  `json:"id"`
	TenantID         string `json:"tenant_id"`
	RecordType       string `json:"record_type"`
	NumeroFactura    string `json:"numero_factura"`
	FechaExpedicion  string `json:"fecha_expedicion"`
	TipoFactura      string `json:"tipo_factura"`
	CuotaTributaria  string `json:"cuota_tributaria"`
	ImporteTotal     string `json:"importe_total"`
	HashRecord       string `json:"hash_record"`
	HashPrevious     string `json:"hash_previous"`
	Status           string `json:"status"`
	ResponseCode     string `json:"response_code,omitempty"`
	ResponseMessage  string `json:"response_message,omitempty"`
	BatchID          *int64 `json:"batch_id,omitempty"`
	OriginalRecordID *int64 `json:"original_record_id,omitempty"`
	VerificationURL  string `json:"verification_url,omitempty"`
	CreatedAt        string `json:"created_at"`
}

type batchResponse struct {
	ID              int64  `json:"id"`
	TenantID        string `json:"tenant_id"`
	UUID            string `json:"uuid"`
	Status          string `json:"status"`
	Environment     string `json:"environment"`
	TotalRecords    int    `json:"total_records"`
	AcceptedRecords int    `json:"accepted_records"`
	RejectedRecords int    `json:"rejected_records"`
	AttemptCount    int    `json:"attempt_count"`
	NextAttemptAt   string `json:"next_attempt_at,omitempty"`
	CSV             string `json:"csv,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type tenantConfigResponse struct {
	TenantID              string `json:"tenant_id"`
	NIF                   string `json:"nif"`
	NombreFiscal          string `json:"nombre_fiscal"`
	SerieFacturacion      string `json:"serie_facturacion"`
	Environment           string `json:"environment"`
	Active                bool   `json:"active"`
	LastChainHash         string `json:"last_chain_hash,omitempty"`
	LastRecordID          int64  `json:"last_record_id,omitempty"`
	CertificateSubject    string `json:"certificate_subject,omitempty"`
	CertificateValidUntil string `json:"certificate_valid_until,omitempty"`
}

func (s *Server) handleGetTenantConfig(c *gin.Context) {
	cfg, err := s.tenants.GetByTenant(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenantConfigToResponse(*cfg))
}

type tenantConfigRequest struct {
	NIF              string `json:"nif"`
	NombreFiscal     string `json:"nombre_fiscal"`
	SerieFacturacion string `json:"serie_facturacion"`
	Environment      string `json:"environment"`
	Active           *bool  `json:"active"`
}

func (s *Server) handleUpdateTenantConfig(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !s.authorize(c, domain.ActionConfigUpdate, tenantID) {
		return
	}
	var req tenantConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.NIF == "" || req.NombreFiscal == "" {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "nif and nombre_fiscal are required")
		return
	}
	environment := domain.Environment(req.Environment)
	if environment == "" {
		environment = domain.EnvironmentTesting
	}
	if environment != domain.EnvironmentProduction && environment != domain.EnvironmentTesting {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "environment must be production or testing")
		return
	}

	ctx := c.Request.Context()
	existing, err := s.tenants.GetByTenant(ctx, tenantID)
	switch {
	case err == nil:
		existing.NIF = req.NIF
		existing.NombreFiscal = req.NombreFiscal
		existing.SerieFacturacion = req.SerieFacturacion
		existing.Environment = environment
		if req.Active != nil {
			existing.Active = *req.Active
		}
		if err := s.tenants.Update(ctx, *existing); err != nil {
			writeError(c, err)
			return
		}
	case errors.Is(err, domain.ErrNotFound):
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		created, err := s.tenants.Create(ctx, domain.TenantConfig{
			TenantID:         tenantID,
			NIF:              req.NIF,
			NombreFiscal:     req.NombreFiscal,
			SerieFacturacion: req.SerieFacturacion,
			Environment:      environment,
			Active:           active,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		existing = &created
	default:
		writeError(c, err)
		return
	}

	s.events.Log(ctx, usecase.Event{
		Type:      domain.EventConfigChange,
		TenantID:  tenantID,
		ActorID:   actorID(c),
		IPAddress: c.ClientIP(),
		Details: map[string]any{
			"description": "tenant verifactu configuration updated",
			"environment": string(existing.Environment),
			"active":      existing.Active,
		},
	})
	c.JSON(http.StatusOK, tenantConfigToResponse(*existing))
}

type certificateUploadRequest struct {
	CertificatePEM string `json:"certificate_pem"`
	PrivateKeyPEM  string `json:"private_key_pem"`
}

func (s *Server) handleUploadCertificate(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !s.authorize(c, domain.ActionCertUpload, tenantID) {
		return
	}
	var req certificateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.CertificatePEM == "" || req.PrivateKeyPEM == "" {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "certificate_pem and private_key_pem are required")
		return
	}

	ctx := c.Request.Context()
	info, err := s.certStore.Upload(ctx, tenantID, req.CertificatePEM, req.PrivateKeyPEM)
	if err != nil {
		writeError(c, err)
		return
	}

	if cfg, err := s.tenants.GetByTenant(ctx, tenantID); err == nil {
		cfg.CertificateSubject = info.Subject
		notAfter := info.NotAfter
		cfg.CertificateValidUntil = &notAfter
		if err := s.tenants.Update(ctx, *cfg); err != nil && s.logger != nil {
			s.logger.Warn("failed to store certificate metadata", "tenant_id", tenantID, "error", err)
		}
	}

	s.events.Log(ctx, usecase.Event{
		Type:      domain.EventCertificateChange,
		TenantID:  tenantID,
		ActorID:   actorID(c),
		IPAddress: c.ClientIP(),
		Details: map[string]any{
			"description": "AEAT client certificate uploaded",
			"subject":     info.Subject,
			"not_after":   info.NotAfter.UTC().Format(time.RFC3339),
		},
	})
	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID,
		"subject":   info.Subject,
		"issuer":    info.Issuer,
		"not_after": info.NotAfter.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCertificateStatus(c *gin.Context) {
	info, err := s.certStore.Status(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id":  info.TenantID,
		"subject":    info.Subject,
		"issuer":     info.Issuer,
		"not_before": info.NotBefore.UTC().Format(time.RFC3339),
		"not_after":  info.NotAfter.UTC().Format(time.RFC3339),
		"expired":    info.Expired,
	})
}

// handleTestConnection checks that the tenant is configured and that a
// usable client certificate is on file, and reports which AEAT endpoint a
// submission would hit. No request leaves the service.
func (s *Server) handleTestConnection(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	ctx := c.Request.Context()

	cfg, err := s.tenants.GetByTenant(ctx, tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := s.certStore.ClientCertificate(ctx, tenantID); err != nil {
		writeError(c, err)
		return
	}

	endpoint := s.cfg.AeatTestingURL
	if cfg.Environment == domain.EnvironmentProduction {
		endpoint = s.cfg.AeatProductionURL
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id":   tenantID,
		"status":      "ok",
		"environment": string(cfg.Environment),
		"endpoint":    endpoint,
	})
}

type createRecordRequest struct {
	InvoiceID         string `json:"invoice_id"`
	InvoiceNumber     string `json:"invoice_number"`
	GrossTotal        string `json:"gross_total"`
	RectifiesRecordID *int64 `json:"rectifies_record_id"`
}

func (s *Server) handleCreateRecord(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	var req createRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.InvoiceID == "" || req.GrossTotal == "" {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "invoice_id and gross_total are required")
		return
	}
	invoice := domain.SourceInvoice{
		ID:            req.InvoiceID,
		TenantID:      tenantID,
		InvoiceNumber: req.InvoiceNumber,
		GrossTotal:    req.GrossTotal,
	}

	ctx := c.Request.Context()
	var (
		record *domain.InvoiceRecord
		err    error
	)
	if req.RectifiesRecordID != nil {
		original, loadErr := s.recordRepo.GetByID(ctx, *req.RectifiesRecordID)
		if loadErr != nil {
			writeError(c, loadErr)
			return
		}
		record, err = s.records.CreateRectificativaRecord(ctx, invoice, *original)
	} else {
		record, err = s.records.CreateAltaRecord(ctx, invoice)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordsCreated.WithLabelValues(tenantID, string(record.RecordType)).Inc()
	}
	c.JSON(http.StatusCreated, recordToResponse(*record))
}

func (s *Server) handleListRecords(c *gin.Context) {
	records, err := s.recordRepo.LoadSequence(c.Request.Context(), c.Param("tenant_id"), 0)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, recordToResponse(record))
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func (s *Server) handleGetRecord(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	record, err := s.recordRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordToResponse(*record))
}

func (s *Server) handleCancelRecord(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	original, err := s.recordRepo.GetByID(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	record, err := s.records.CreateAnulacionRecord(ctx, *original)
	if err != nil {
		writeError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordsCreated.WithLabelValues(record.TenantID, string(record.RecordType)).Inc()
	}
	c.JSON(http.StatusCreated, recordToResponse(*record))
}

func (s *Server) handleRecordQR(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	record, err := s.recordRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(record.QRImage) == 0 {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "record has no QR image")
		return
	}
	c.Data(http.StatusOK, "image/png", record.QRImage)
}

func (s *Server) handleListBatches(c *gin.Context) {
	batches, err := s.batchRepo.ListByTenant(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, batch := range batches {
		out = append(out, batchToResponse(batch))
	}
	c.JSON(http.StatusOK, gin.H{"batches": out})
}

func (s *Server) handleProcessQueue(c *gin.Context) {
	batches, err := s.submission.ProcessQueue(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, batch := range batches {
		out = append(out, batchToResponse(batch))
	}
	c.JSON(http.StatusOK, gin.H{"batches": out})
}

func (s *Server) handleSubmitBatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := s.submission.SubmitBatch(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if result.Refusal != nil {
		if s.metrics != nil {
			s.metrics.GuardRefusals.WithLabelValues(guardLabel(result.Refusal)).Inc()
		}
		writeError(c, result.Refusal)
		return
	}
	if s.metrics != nil {
		s.metrics.BatchAttempts.WithLabelValues(string(result.Status)).Inc()
		s.metrics.SubmissionSeconds.Observe(float64(result.ElapsedMS) / 1000)
	}
	c.JSON(http.StatusOK, gin.H{
		"batch_id":      result.BatchID,
		"submitted":     result.Submitted,
		"status":        string(result.Status),
		"attempts":      result.Attempts,
		"elapsed_ms":    result.ElapsedMS,
		"error_message": result.ErrorMessage,
	})
}

func (s *Server) handleRetryBatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	batch, err := s.batchRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !s.authorize(c, domain.ActionBatchRetry, batch.TenantID) {
		return
	}
	requeued, err := s.submission.RetryBatch(c.Request.Context(), id, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batchToResponse(*requeued))
}

func (s *Server) handleGetBatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	batch, err := s.batchRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batchToResponse(*batch))
}

func (s *Server) handleVerifyChain(c *gin.Context) {
	result := s.verifier.VerifyChain(c.Request.Context(), c.Param("tenant_id"))
	if s.metrics != nil {
		outcome := "valid"
		if result.Broken() {
			outcome = "broken"
		} else if !result.IsValid {
			outcome = "error"
		}
		s.metrics.ChainVerifications.WithLabelValues(outcome).Inc()
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id":       result.TenantID,
		"is_valid":        result.IsValid,
		"total_records":   result.TotalRecords,
		"valid_records":   result.ValidRecords,
		"break_at_record": result.BreakAtRecord,
		"expected_hash":   result.ExpectedHash,
		"actual_hash":     result.ActualHash,
		"error_message":   result.ErrorMessage,
		"verification_ms": result.VerificationMS,
	})
}

func (s *Server) handleVerifyLedger(c *gin.Context) {
	report := s.events.VerifyIntegrity(c.Request.Context(), c.Param("tenant_id"))
	c.JSON(http.StatusOK, gin.H{
		"tenant_id":     report.TenantID,
		"is_valid":      report.IsValid,
		"total_events":  report.TotalEvents,
		"valid_events":  report.ValidEvents,
		"break_at_seq":  report.BreakAtSeq,
		"error_message": report.ErrorMessage,
	})
}

func (s *Server) handleListEvents(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !s.authorize(c, domain.ActionAuditAccess, tenantID) {
		return
	}
	ctx := c.Request.Context()
	entries, err := s.events.Repo.ListByTenant(ctx, tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.events.Log(ctx, usecase.Event{
		Type:      domain.EventAuditAccess,
		TenantID:  tenantID,
		ActorID:   actorID(c),
		IPAddress: c.ClientIP(),
		Details: map[string]any{
			"description": "event ledger read over the API",
			"count":       len(entries),
		},
	})

	out := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		out = append(out, gin.H{
			"id":                  entry.ID,
			"seq":                 entry.Seq,
			"event_type":          string(entry.EventType),
			"severity":            string(entry.Severity),
			"actor_id":            entry.ActorID,
			"target_record_id":    entry.TargetRecordID,
			"details_hash":        entry.DetailsHash,
			"hash_previous_event": entry.HashPreviousEvent,
			"hash_event":          entry.HashEvent,
			"created_at":          entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "events": out})
}

// authorize evaluates the action against the policy engine and writes the
// refusal itself. Handlers bail out when it returns false.
func (s *Server) authorize(c *gin.Context, action, tenantID string) bool {
	if s.policy == nil {
		return true
	}
	decision, err := s.policy.Evaluate(c.Request.Context(), domain.ActionInput{
		Action:   action,
		ActorID:  actorID(c),
		Role:     c.GetHeader("X-Actor-Role"),
		TenantID: tenantID,
	})
	if err != nil {
		writeError(c, err)
		return false
	}
	if !decision.Allow {
		c.JSON(http.StatusForbidden, errorResponse{
			Code:    "FORBIDDEN",
			Message: "action not permitted",
			Reasons: decision.DenyReasons,
		})
		return false
	}
	return true
}

func actorID(c *gin.Context) string {
	return c.GetHeader("X-Actor-ID")
}

func guardLabel(err error) string {
	if errors.Is(err, domain.ErrCircuitBreakerOpen) {
		return "circuit_breaker"
	}
	if errors.Is(err, domain.ErrFlowControl) {
		return "flow_control"
	}
	return "other"
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "invalid id")
		return 0, false
	}
	return id, true
}

func recordToResponse(record domain.InvoiceRecord) recordResponse {
	return recordResponse{
		ID:               record.ID,
		TenantID:         record.TenantID,
		RecordType:       string(record.RecordType),
		NumeroFactura:    record.NumeroFactura,
		FechaExpedicion:  record.FechaExpedicion,
		TipoFactura:      record.TipoFactura,
		CuotaTributaria:  record.CuotaTributaria,
		ImporteTotal:     record.ImporteTotal,
		HashRecord:       record.HashRecord,
		HashPrevious:     record.HashPrevious,
		Status:           string(record.Status),
		ResponseCode:     record.ResponseCode,
		ResponseMessage:  record.ResponseMessage,
		BatchID:          record.BatchID,
		OriginalRecordID: record.OriginalRecordID,
		VerificationURL:  record.VerificationURL,
		CreatedAt:        record.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func batchToResponse(batch domain.RemisionBatch) batchResponse {
	out := batchResponse{
		ID:              batch.ID,
		TenantID:        batch.TenantID,
		UUID:            batch.UUID,
		Status:          string(batch.Status),
		Environment:     string(batch.Environment),
		TotalRecords:    batch.TotalRecords,
		AcceptedRecords: batch.AcceptedRecords,
		RejectedRecords: batch.RejectedRecords,
		AttemptCount:    batch.AttemptCount,
		CSV:             batch.CSV,
		ErrorMessage:    batch.ErrorMessage,
		CreatedAt:       batch.CreatedAt.UTC().Format(time.RFC3339),
	}
	if batch.NextAttemptAt != nil {
		out.NextAttemptAt = batch.NextAttemptAt.UTC().Format(time.RFC3339)
	}
	return out
}

func tenantConfigToResponse(cfg domain.TenantConfig) tenantConfigResponse {
	out := tenantConfigResponse{
		TenantID:           cfg.TenantID,
		NIF:                cfg.NIF,
		NombreFiscal:       cfg.NombreFiscal,
		SerieFacturacion:   cfg.SerieFacturacion,
		Environment:        string(cfg.Environment),
		Active:             cfg.Active,
		LastChainHash:      cfg.LastChainHash,
		LastRecordID:       cfg.LastRecordID,
		CertificateSubject: cfg.CertificateSubject,
	}
	if cfg.CertificateValidUntil != nil {
		out.CertificateValidUntil = cfg.CertificateValidUntil.UTC().Format(time.RFC3339)
	}
	return out
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrLockUnavailable):
		status, code = http.StatusConflict, "LOCK_UNAVAILABLE"
	case errors.Is(err, domain.ErrBatchNotRetryable):
		status, code = http.StatusConflict, "BATCH_NOT_RETRYABLE"
	case errors.Is(err, domain.ErrTenantNotConfigured):
		status, code = http.StatusConflict, "TENANT_NOT_CONFIGURED"
	case errors.Is(err, domain.ErrCircuitBreakerOpen):
		status, code = http.StatusServiceUnavailable, "CIRCUIT_BREAKER_OPEN"
	case errors.Is(err, domain.ErrFlowControl):
		status, code = http.StatusTooManyRequests, "FLOW_CONTROL"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrCommunication):
		status, code = http.StatusBadGateway, "AEAT_COMMUNICATION"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
