package aeat

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"verifactu/internal/domain"
)

const (
	nsSoapEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	nsLR      = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroLR.xsd"
	nsSF      = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroInformacion.xsd"
)

// EnvelopeBuilder renders a batch of records as the RegFactu SOAP request.
// All XML shape knowledge lives here; the pipeline only sees opaque bytes.
type EnvelopeBuilder struct{}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{}
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	NSEnv   string   `xml:"xmlns:soapenv,attr"`
	NSLR    string   `xml:"xmlns:lr,attr"`
	NSSF    string   `xml:"xmlns:sf,attr"`
	Body    soapBody `xml:"soapenv:Body"`
}

type soapBody struct {
	RegFactu regFactu `xml:"lr:RegFactuSistemaFacturacion"`
}

type regFactu struct {
	Cabecera  cabecera          `xml:"sf:Cabecera"`
	Registros []registroFactura `xml:"lr:RegistroFactura"`
}

type cabecera struct {
	ObligadoEmision obligadoEmision `xml:"sf:ObligadoEmision"`
}

type obligadoEmision struct {
	NombreRazon string `xml:"sf:NombreRazon"`
	NIF         string `xml:"sf:NIF"`
}

type registroFactura struct {
	Alta      *registroAlta      `xml:"sf:RegistroAlta,omitempty"`
	Anulacion *registroAnulacion `xml:"sf:RegistroAnulacion,omitempty"`
}

type registroAlta struct {
	IDVersion          string             `xml:"sf:IDVersion"`
	IDFactura          idFactura          `xml:"sf:IDFactura"`
	NombreRazonEmisor  string             `xml:"sf:NombreRazonEmisor"`
	TipoFactura        string             `xml:"sf:TipoFactura"`
	DescripcionOper    string             `xml:"sf:DescripcionOperacion"`
	Desglose           desglose           `xml:"sf:Desglose"`
	CuotaTotal         string             `xml:"sf:CuotaTotal"`
	ImporteTotal       string             `xml:"sf:ImporteTotal"`
	Encadenamiento     encadenamiento     `xml:"sf:Encadenamiento"`
	SistemaInformatico sistemaInformatico `xml:"sf:SistemaInformatico"`
	FechaHoraHuso      string             `xml:"sf:FechaHoraHusoGenRegistro"`
	TipoHuella         string             `xml:"sf:TipoHuella"`
	Huella             string             `xml:"sf:Huella"`
}

type registroAnulacion struct {
	IDVersion          string             `xml:"sf:IDVersion"`
	IDFactura          idFactura          `xml:"sf:IDFacturaAnulada"`
	Encadenamiento     encadenamiento     `xml:"sf:Encadenamiento"`
	SistemaInformatico sistemaInformatico `xml:"sf:SistemaInformatico"`
	FechaHoraHuso      string             `xml:"sf:FechaHoraHusoGenRegistro"`
	TipoHuella         string             `xml:"sf:TipoHuella"`
	Huella             string             `xml:"sf:Huella"`
}

type idFactura struct {
	IDEmisorFactura string `xml:"sf:IDEmisorFactura"`
	NumSerieFactura string `xml:"sf:NumSerieFactura"`
	FechaExpedicion string `xml:"sf:FechaExpedicionFactura"`
}

type desglose struct {
	Detalle detalleDesglose `xml:"sf:DetalleDesglose"`
}

type detalleDesglose struct {
	Impuesto       string `xml:"sf:Impuesto"`
	ClaveRegimen   string `xml:"sf:ClaveRegimen"`
	TipoImpositivo string `xml:"sf:TipoImpositivo"`
	BaseImponible  string `xml:"sf:BaseImponibleOimporteNoSujeto"`
	CuotaRepercuta string `xml:"sf:CuotaRepercutida"`
}

type encadenamiento struct {
	PrimerRegistro *string        `xml:"sf:PrimerRegistro,omitempty"`
	Anterior       *registroPrevio `xml:"sf:RegistroAnterior,omitempty"`
}

type registroPrevio struct {
	Huella string `xml:"sf:Huella"`
}

type sistemaInformatico struct {
	NombreRazon string `xml:"sf:NombreRazon"`
	NIF         string `xml:"sf:NIF"`
	IDSistema   string `xml:"sf:IdSistemaInformatico"`
	Version     string `xml:"sf:Version"`
}

// BuildEnvelope renders the SOAP request for a non-empty set of records
// belonging to the same issuer.
func (b *EnvelopeBuilder) BuildEnvelope(records []domain.InvoiceRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: cannot build envelope for empty record set", domain.ErrValidation)
	}
	first := records[0]
	env := soapEnvelope{
		NSEnv: nsSoapEnv,
		NSLR:  nsLR,
		NSSF:  nsSF,
		Body: soapBody{
			RegFactu: regFactu{
				Cabecera: cabecera{
					ObligadoEmision: obligadoEmision{
						NombreRazon: first.NombreEmisor,
						NIF:         first.NIFEmisor,
					},
				},
			},
		},
	}
	for _, record := range records {
		env.Body.RegFactu.Registros = append(env.Body.RegFactu.Registros, registroFromRecord(record))
	}

	buf := &bytes.Buffer{}
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(buf)
	enc.Indent("", "  ")
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func registroFromRecord(record domain.InvoiceRecord) registroFactura {
	id := idFactura{
		IDEmisorFactura: record.NIFEmisor,
		NumSerieFactura: record.NumeroFactura,
		FechaExpedicion: record.FechaExpedicion,
	}
	chain := chainFromRecord(record)
	system := sistemaInformatico{
		NombreRazon: record.NombreEmisor,
		NIF:         record.NIFEmisor,
		IDSistema:   record.SoftwareID,
		Version:     record.SoftwareVersion,
	}
	generated := record.CreatedAt.Format("2006-01-02T15:04:05-07:00")

	if record.IsCancellation() {
		return registroFactura{
			Anulacion: &registroAnulacion{
				IDVersion:          "1.0",
				IDFactura:          id,
				Encadenamiento:     chain,
				SistemaInformatico: system,
				FechaHoraHuso:      generated,
				TipoHuella:         "01",
				Huella:             record.HashRecord,
			},
		}
	}
	return registroFactura{
		Alta: &registroAlta{
			IDVersion:         "1.0",
			IDFactura:         id,
			NombreRazonEmisor: record.NombreEmisor,
			TipoFactura:       record.TipoFactura,
			DescripcionOper:   "Factura " + record.NumeroFactura,
			Desglose: desglose{
				Detalle: detalleDesglose{
					Impuesto:       "01",
					ClaveRegimen:   record.ClaveRegimen,
					TipoImpositivo: record.TipoImpositivo,
					BaseImponible:  record.BaseImponible,
					CuotaRepercuta: record.CuotaTributaria,
				},
			},
			CuotaTotal:         record.CuotaTributaria,
			ImporteTotal:       record.ImporteTotal,
			Encadenamiento:     chain,
			SistemaInformatico: system,
			FechaHoraHuso:      generated,
			TipoHuella:         "01",
			Huella:             record.HashRecord,
		},
	}
}

func chainFromRecord(record domain.InvoiceRecord) encadenamiento {
	if record.HashPrevious == domain.RecordChainGenesis {
		first := "S"
		return encadenamiento{PrimerRegistro: &first}
	}
	return encadenamiento{Anterior: &registroPrevio{Huella: record.HashPrevious}}
}
