package aeat

import (
	"strings"
	"testing"
)

func responseXML(estado string, lineas string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
  <env:Body>
    <tikR:RespuestaRegFactuSistemaFacturacion xmlns:tikR="https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/RespuestaSuministro.xsd">
      <tikR:CSV>A-CSV-VALUE</tikR:CSV>
      <tikR:EstadoEnvio>` + estado + `</tikR:EstadoEnvio>
      ` + lineas + `
    </tikR:RespuestaRegFactuSistemaFacturacion>
  </env:Body>
</env:Envelope>`)
}

func lineaXML(numSerie, estado, code, desc string) string {
	return `<tikR:RespuestaLinea>
        <tikR:IDFactura><tikR:NumSerieFactura>` + numSerie + `</tikR:NumSerieFactura></tikR:IDFactura>
        <tikR:EstadoRegistro>` + estado + `</tikR:EstadoRegistro>
        <tikR:CodigoErrorRegistro>` + code + `</tikR:CodigoErrorRegistro>
        <tikR:DescripcionErrorRegistro>` + desc + `</tikR:DescripcionErrorRegistro>
      </tikR:RespuestaLinea>`
}

func TestParseResponse_AllCorrect(t *testing.T) {
	t.Parallel()
	raw := responseXML("Correcto",
		lineaXML("VF-2026-001", "Correcto", "", "")+lineaXML("VF-2026-002", "Correcto", "", ""))

	got := NewResponseParser().ParseResponse(raw)
	if !got.IsSuccess {
		t.Fatalf("expected success: %+v", got)
	}
	if got.CSV != "A-CSV-VALUE" {
		t.Fatalf("csv: %q", got.CSV)
	}
	if got.AcceptedCount != 2 || got.RejectedCount != 0 || len(got.Outcomes) != 2 {
		t.Fatalf("counts: %+v", got)
	}
	if got.Outcomes[0].NumeroFactura != "VF-2026-001" {
		t.Fatalf("outcome invoice: %q", got.Outcomes[0].NumeroFactura)
	}
}

func TestParseResponse_PartiallyCorrect(t *testing.T) {
	t.Parallel()
	raw := responseXML("ParcialmenteCorrecto",
		lineaXML("VF-2026-001", "Correcto", "", "")+
			lineaXML("VF-2026-002", "Incorrecto", "1117", "cuota mal calculada"))

	got := NewResponseParser().ParseResponse(raw)
	if !got.IsSuccess {
		t.Fatal("a partial verdict is still definitive")
	}
	if got.AcceptedCount != 1 || got.RejectedCount != 1 {
		t.Fatalf("counts: %+v", got)
	}
	rejected := got.Outcomes[1]
	if rejected.Accepted() {
		t.Fatal("Incorrecto outcome must not count as accepted")
	}
	if rejected.Code != "1117" || rejected.Message != "cuota mal calculada" {
		t.Fatalf("rejection detail: %+v", rejected)
	}
}

func TestParseResponse_AcceptedWithErrors(t *testing.T) {
	t.Parallel()
	raw := responseXML("Correcto", lineaXML("VF-2026-001", "AceptadoConErrores", "2001", "aviso"))

	got := NewResponseParser().ParseResponse(raw)
	if got.AcceptedCount != 1 {
		t.Fatalf("AceptadoConErrores must count as accepted: %+v", got)
	}
}

func TestParseResponse_IncorrectWithOutcomesIsDefinitive(t *testing.T) {
	t.Parallel()
	raw := responseXML("Incorrecto", lineaXML("VF-2026-001", "Incorrecto", "1100", "registro duplicado"))

	got := NewResponseParser().ParseResponse(raw)
	if !got.IsSuccess {
		t.Fatal("a rejection with per-record verdicts is definitive, not a failed attempt")
	}
	if got.RejectedCount != 1 {
		t.Fatalf("counts: %+v", got)
	}
}

func TestParseResponse_IncorrectWithoutOutcomes(t *testing.T) {
	t.Parallel()
	got := NewResponseParser().ParseResponse(responseXML("Incorrecto", ""))
	if got.IsSuccess {
		t.Fatal("a rejection that rules on nothing is not definitive")
	}
	if len(got.Outcomes) != 0 {
		t.Fatalf("outcomes: %+v", got.Outcomes)
	}
}

func TestParseResponse_SoapFault(t *testing.T) {
	t.Parallel()
	raw := []byte(`<?xml version="1.0"?>
<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
  <env:Body>
    <env:Fault>
      <faultcode>env:Server</faultcode>
      <faultstring>Servicio no disponible</faultstring>
    </env:Fault>
  </env:Body>
</env:Envelope>`)

	got := NewResponseParser().ParseResponse(raw)
	if got.IsSuccess {
		t.Fatal("a fault is never a success")
	}
	if len(got.Outcomes) != 0 {
		t.Fatal("a fault carries no record verdicts")
	}
	if !strings.Contains(got.ErrorMessage, "Servicio no disponible") {
		t.Fatalf("fault message lost: %q", got.ErrorMessage)
	}
}

func TestParseResponse_EmptyBody(t *testing.T) {
	t.Parallel()
	got := NewResponseParser().ParseResponse(nil)
	if got.IsSuccess || got.ErrorMessage == "" {
		t.Fatalf("empty body must fail with a message: %+v", got)
	}
}

func TestParseResponse_Garbage(t *testing.T) {
	t.Parallel()
	got := NewResponseParser().ParseResponse([]byte("<html>502 Bad Gateway</html>"))
	if got.IsSuccess {
		t.Fatal("garbage must not parse as success")
	}
	if got.ErrorMessage == "" {
		t.Fatal("garbage must be reported")
	}
	if len(got.Outcomes) != 0 {
		t.Fatal("garbage carries no verdicts")
	}
}

func TestParseResponse_MissingRespuesta(t *testing.T) {
	t.Parallel()
	raw := []byte(`<?xml version="1.0"?>
<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
  <env:Body></env:Body>
</env:Envelope>`)

	got := NewResponseParser().ParseResponse(raw)
	if got.IsSuccess {
		t.Fatal("an envelope with no verdict is not a success")
	}
	if !strings.Contains(got.ErrorMessage, "RespuestaRegFactuSistemaFacturacion") {
		t.Fatalf("missing body must be named: %q", got.ErrorMessage)
	}
}
