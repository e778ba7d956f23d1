package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"verifactu/internal/domain"
	"verifactu/internal/infra/vaultclient"
)

// CertificateInfo is the metadata surfaced by the status endpoint; the key
// material itself never leaves the store.
type CertificateInfo struct {
	TenantID  string
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	Expired   bool
}

// Store keeps tenant AEAT client certificates in the Vault KV engine, one
// secret per tenant.
type Store struct {
	vault *vaultclient.Client
	clock func() time.Time
}

func NewStore(vault *vaultclient.Client) *Store {
	return &Store{vault: vault, clock: time.Now}
}

type certSecret struct {
	CertificatePEM string `json:"certificate_pem"`
	PrivateKeyPEM  string `json:"private_key_pem"`
	Subject        string `json:"subject"`
	NotAfter       string `json:"not_after"`
}

func certPath(tenantID string) string {
	return "secret/data/verifactu/certs/" + tenantID
}

// Upload validates and stores a PEM certificate/key pair. An expired or
// not-yet-valid certificate is rejected before anything is written.
func (s *Store) Upload(ctx context.Context, tenantID, certificatePEM, privateKeyPEM string) (*CertificateInfo, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", domain.ErrValidation)
	}
	info, err := s.inspect(tenantID, certificatePEM)
	if err != nil {
		return nil, err
	}
	if info.Expired {
		return nil, fmt.Errorf("%w: certificate expired at %s", domain.ErrValidation, info.NotAfter.Format(time.RFC3339))
	}
	if _, err := tls.X509KeyPair([]byte(certificatePEM), []byte(privateKeyPEM)); err != nil {
		return nil, fmt.Errorf("%w: certificate and key do not match: %v", domain.ErrValidation, err)
	}

	secret := certSecret{
		CertificatePEM: certificatePEM,
		PrivateKeyPEM:  privateKeyPEM,
		Subject:        info.Subject,
		NotAfter:       info.NotAfter.UTC().Format(time.RFC3339),
	}
	if err := s.vault.WriteKV(ctx, certPath(tenantID), secret); err != nil {
		return nil, fmt.Errorf("store certificate: %w", err)
	}
	return info, nil
}

// Status reports the stored certificate's metadata without exposing keys.
func (s *Store) Status(ctx context.Context, tenantID string) (*CertificateInfo, error) {
	secret, err := s.read(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.inspect(tenantID, secret.CertificatePEM)
}

// ClientCertificate implements the aeat.CertificateSource contract.
func (s *Store) ClientCertificate(ctx context.Context, tenantID string) (tls.Certificate, error) {
	secret, err := s.read(ctx, tenantID)
	if err != nil {
		return tls.Certificate{}, err
	}
	info, err := s.inspect(tenantID, secret.CertificatePEM)
	if err != nil {
		return tls.Certificate{}, err
	}
	if info.Expired {
		return tls.Certificate{}, fmt.Errorf("%w: certificate for tenant %s expired at %s", domain.ErrValidation, tenantID, info.NotAfter.Format(time.RFC3339))
	}
	pair, err := tls.X509KeyPair([]byte(secret.CertificatePEM), []byte(secret.PrivateKeyPEM))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load key pair: %w", err)
	}
	return pair, nil
}

func (s *Store) Delete(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", domain.ErrValidation)
	}
	return s.vault.DeleteKV(ctx, certPath(tenantID))
}

func (s *Store) read(ctx context.Context, tenantID string) (*certSecret, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", domain.ErrValidation)
	}
	var secret certSecret
	if err := s.vault.ReadKV(ctx, certPath(tenantID), &secret); err != nil {
		if errors.Is(err, vaultclient.ErrSecretNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	if secret.CertificatePEM == "" {
		return nil, domain.ErrNotFound
	}
	return &secret, nil
}

func (s *Store) inspect(tenantID, certificatePEM string) (*CertificateInfo, error) {
	block, _ := pem.Decode([]byte(certificatePEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: input is not a PEM certificate", domain.ErrValidation)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse certificate: %v", domain.ErrValidation, err)
	}
	now := s.clock().UTC()
	return &CertificateInfo{
		TenantID:  tenantID,
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		Expired:   now.After(cert.NotAfter) || now.Before(cert.NotBefore),
	}, nil
}
