package aeat

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"verifactu/internal/domain"
)

// CertificateSource yields the tenant's mutual-TLS client certificate. The
// certs package implements it on top of the KV secret store.
type CertificateSource interface {
	ClientCertificate(ctx context.Context, tenantID string) (tls.Certificate, error)
}

// Client delivers envelopes to the AEAT web service. Every failure it
// returns wraps domain.ErrCommunication so the pipeline can distinguish
// transport trouble from guard refusals and validation errors.
type Client struct {
	ProductionURL string
	TestingURL    string
	Certs         CertificateSource
	Timeout       time.Duration
}

func NewClient(productionURL, testingURL string, certs CertificateSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		ProductionURL: productionURL,
		TestingURL:    testingURL,
		Certs:         certs,
		Timeout:       timeout,
	}
}

func (c *Client) Send(ctx context.Context, tenantID string, env domain.Environment, payload []byte) ([]byte, error) {
	endpoint := c.TestingURL
	if env == domain.EnvironmentProduction {
		endpoint = c.ProductionURL
	}
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint configured for environment %s", domain.ErrCommunication, env)
	}

	httpClient, err := c.clientFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrCommunication, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCommunication, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrCommunication, err)
	}
	// A SOAP fault arrives with status 500 and a parsable body; it is a
	// response, not a transport error, so it flows to the parser.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrCommunication, resp.StatusCode)
	}
	return body, nil
}

func (c *Client) clientFor(ctx context.Context, tenantID string) (*http.Client, error) {
	if c.Certs == nil {
		return &http.Client{Timeout: c.Timeout}, nil
	}
	cert, err := c.Certs.ClientCertificate(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no client certificate for tenant %s", domain.ErrCommunication, tenantID)
		}
		return nil, fmt.Errorf("%w: load client certificate: %v", domain.ErrCommunication, err)
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport, Timeout: c.Timeout}, nil
}
