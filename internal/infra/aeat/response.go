package aeat

import (
	"encoding/xml"
	"strings"

	"verifactu/internal/domain"
)

// ResponseParser turns raw AEAT reply bytes into a domain verdict. It never
// panics and never returns an error: a fault or an unparsable body becomes
// IsSuccess=false with ErrorMessage set, which the pipeline treats as a
// failed attempt.
type ResponseParser struct{}

func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

type responseEnvelope struct {
	XMLName xml.Name     `xml:"Envelope"`
	Body    responseBody `xml:"Body"`
}

type responseBody struct {
	Fault     *soapFault         `xml:"Fault"`
	Respuesta *respuestaRegFactu `xml:"RespuestaRegFactuSistemaFacturacion"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type respuestaRegFactu struct {
	CSV             string           `xml:"CSV"`
	EstadoEnvio     string           `xml:"EstadoEnvio"`
	RespuestaLineas []respuestaLinea `xml:"RespuestaLinea"`
}

type respuestaLinea struct {
	IDFactura        respuestaIDFactura `xml:"IDFactura"`
	EstadoRegistro   string             `xml:"EstadoRegistro"`
	CodigoError      string             `xml:"CodigoErrorRegistro"`
	DescripcionError string             `xml:"DescripcionErrorRegistro"`
}

type respuestaIDFactura struct {
	NumSerieFactura string `xml:"NumSerieFactura"`
}

func (p *ResponseParser) ParseResponse(raw []byte) domain.AeatResponse {
	if len(raw) == 0 {
		return domain.AeatResponse{ErrorMessage: "empty response body"}
	}

	var env responseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return domain.AeatResponse{ErrorMessage: "unparsable response: " + err.Error()}
	}
	if env.Body.Fault != nil {
		message := strings.TrimSpace(env.Body.Fault.String)
		if message == "" {
			message = "SOAP fault"
		}
		if env.Body.Fault.Code != "" {
			message = env.Body.Fault.Code + ": " + message
		}
		return domain.AeatResponse{ErrorMessage: message}
	}
	if env.Body.Respuesta == nil {
		return domain.AeatResponse{ErrorMessage: "response body missing RespuestaRegFactuSistemaFacturacion"}
	}

	respuesta := env.Body.Respuesta
	out := domain.AeatResponse{
		GlobalStatus: respuesta.EstadoEnvio,
		CSV:          respuesta.CSV,
	}
	for _, linea := range respuesta.RespuestaLineas {
		outcome := domain.RecordOutcome{
			NumeroFactura: linea.IDFactura.NumSerieFactura,
			Status:        domain.OutcomeStatus(linea.EstadoRegistro),
			Code:          linea.CodigoError,
			Message:       linea.DescripcionError,
		}
		if outcome.Accepted() {
			out.AcceptedCount++
		} else {
			out.RejectedCount++
		}
		out.Outcomes = append(out.Outcomes, outcome)
	}

	// The AEAT reports Correcto / ParcialmenteCorrecto / Incorrecto at the
	// envio level; any of them is a definitive verdict on the records.
	switch respuesta.EstadoEnvio {
	case "Correcto", "ParcialmenteCorrecto":
		out.IsSuccess = true
	case "Incorrecto":
		out.IsSuccess = len(out.Outcomes) > 0
	default:
		out.IsSuccess = len(out.Outcomes) > 0 && out.RejectedCount == 0
	}
	return out
}
