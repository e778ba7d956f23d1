package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"verifactu/internal/config"
	"verifactu/internal/domain"
	"verifactu/internal/infra/certs"
	"verifactu/internal/infra/metrics"
	"verifactu/internal/usecase"
)

// TenantStore is the slice of the tenant repository the API needs.
type TenantStore interface {
	GetByTenant(ctx context.Context, tenantID string) (*domain.TenantConfig, error)
	Create(ctx context.Context, cfg domain.TenantConfig) (domain.TenantConfig, error)
	Update(ctx context.Context, cfg domain.TenantConfig) error
}

// CertificateStore is implemented by the Vault-backed certificate store.
type CertificateStore interface {
	Upload(ctx context.Context, tenantID, certificatePEM, privateKeyPEM string) (*certs.CertificateInfo, error)
	Status(ctx context.Context, tenantID string) (*certs.CertificateInfo, error)
	ClientCertificate(ctx context.Context, tenantID string) (tls.Certificate, error)
}

type Server struct {
	cfg config.Config
	r   *gin.Engine

	records    *usecase.RecordService
	verifier   *usecase.ChainVerifier
	events     *usecase.EventLogger
	submission *usecase.SubmissionService

	recordRepo usecase.RecordRepository
	batchRepo  usecase.BatchRepository
	tenants    TenantStore
	certStore  CertificateStore
	policy     usecase.PolicyEngine

	logger  *slog.Logger
	metrics *metrics.Metrics
}

type ServerDeps struct {
	Records    *usecase.RecordService
	Verifier   *usecase.ChainVerifier
	Events     *usecase.EventLogger
	Submission *usecase.SubmissionService

	RecordRepo usecase.RecordRepository
	BatchRepo  usecase.BatchRepository
	Tenants    TenantStore
	CertStore  CertificateStore
	Policy     usecase.PolicyEngine

	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Prometheus prometheus.Gatherer
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:        cfg,
		r:          r,
		records:    deps.Records,
		verifier:   deps.Verifier,
		events:     deps.Events,
		submission: deps.Submission,
		recordRepo: deps.RecordRepo,
		batchRepo:  deps.BatchRepo,
		tenants:    deps.Tenants,
		certStore:  deps.CertStore,
		policy:     deps.Policy,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	s.routes(deps.Prometheus)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		s.r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.r.Group("/v1")
	{
		v1.GET("/tenants/:tenant_id/config", s.handleGetTenantConfig)
		v1.PUT("/tenants/:tenant_id/config", s.handleUpdateTenantConfig)
		v1.POST("/tenants/:tenant_id/certificate", s.handleUploadCertificate)
		v1.GET("/tenants/:tenant_id/certificate", s.handleCertificateStatus)
		v1.POST("/tenants/:tenant_id/certificate/test", s.handleTestConnection)

		v1.POST("/tenants/:tenant_id/records", s.handleCreateRecord)
		v1.GET("/tenants/:tenant_id/records", s.handleListRecords)
		v1.GET("/records/:id", s.handleGetRecord)
		v1.POST("/records/:id/cancel", s.handleCancelRecord)
		v1.GET("/records/:id/qr", s.handleRecordQR)

		v1.GET("/tenants/:tenant_id/batches", s.handleListBatches)
		v1.POST("/batches/process-queue", s.handleProcessQueue)
		v1.POST("/batches/:id/submit", s.handleSubmitBatch)
		v1.POST("/batches/:id/retry", s.handleRetryBatch)
		v1.GET("/batches/:id", s.handleGetBatch)

		v1.GET("/tenants/:tenant_id/chain/verify", s.handleVerifyChain)
		v1.GET("/tenants/:tenant_id/ledger/verify", s.handleVerifyLedger)
		v1.GET("/tenants/:tenant_id/events", s.handleListEvents)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}
