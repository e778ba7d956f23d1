package qr

import (
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"verifactu/internal/domain"
)

// DefaultCotejoBaseURL is the AEAT public verification endpoint encoded in
// every invoice QR.
const DefaultCotejoBaseURL = "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ValidarQR"

// ImageEncoder renders a verification URL as a QR image. The noop encoder
// is injected when image generation is not configured; records then stay
// artifact-pending with just the URL.
type ImageEncoder interface {
	Encode(url string) ([]byte, error)
}

// Generator builds the deterministic cotejo URL and, when an encoder is
// present, the QR PNG for an invoice record.
type Generator struct {
	BaseURL string
	Encoder ImageEncoder
}

func NewGenerator(baseURL string, encoder ImageEncoder) *Generator {
	if baseURL == "" {
		baseURL = DefaultCotejoBaseURL
	}
	if encoder == nil {
		encoder = NoopEncoder{}
	}
	return &Generator{BaseURL: baseURL, Encoder: encoder}
}

// BuildVerificationURL derives the cotejo URL from the record's canonical
// identity fields. Same record, same URL: the QR printed on the invoice must
// match what a later reprint produces.
func (g *Generator) BuildVerificationURL(record domain.InvoiceRecord) string {
	query := url.Values{}
	query.Set("nif", record.NIFEmisor)
	query.Set("numserie", record.NumeroFactura)
	query.Set("fecha", record.FechaExpedicion)
	query.Set("importe", record.ImporteTotal)

	base := strings.TrimRight(g.BaseURL, "?")
	return base + "?" + query.Encode()
}

func (g *Generator) GenerateQR(url string) ([]byte, error) {
	return g.Encoder.Encode(url)
}

// PNGEncoder renders the URL as a PNG at the AEAT-recommended module size.
type PNGEncoder struct {
	Size int
}

func (e PNGEncoder) Encode(url string) ([]byte, error) {
	size := e.Size
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(url, qrcode.Medium, size)
}

// NoopEncoder produces no image; the verification URL alone is stored.
type NoopEncoder struct{}

func (NoopEncoder) Encode(string) ([]byte, error) {
	return nil, nil
}
