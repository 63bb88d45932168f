package nfestore

import "fmt"

// Columns is the persisted column schema, in order. External readers of
// the shared CSV depend on this exact layout; never reorder or rename.
var Columns = []string{
	// invoice header
	"Chave_NFe", "Numero_NFe", "Serie_NFe", "Data_Emissao",
	"CNPJ_Emitente", "Nome_Emitente",
	"CNPJ_Destinatario", "Nome_Destinatario",

	// line item
	"Item", "cProd", "xProd", "NCM", "CFOP", "uCom", "qCom", "vUnCom", "vProd",

	// ICMS
	"ICMS_CST", "ICMS_vBC", "ICMS_pICMS", "ICMS_vICMS",

	// PIS
	"PIS_CST", "PIS_vBC", "PIS_pPIS", "PIS_vPIS",

	// COFINS
	"COFINS_CST", "COFINS_vBC", "COFINS_pCOFINS", "COFINS_vCOFINS",

	// IBS/CBS
	"IBS_CST", "cClassTrib", "IBS_vBC", "IBS_vIBS", "CBS_vCBS",

	// provenance
	"Arquivo_Origem",
}

// ColumnCount is the arity every persisted row must have. Rows with any
// other arity are dropped on read.
var ColumnCount = len(Columns)

// TaxGroup holds the four fields shared by the ICMS, PIS and COFINS
// groups. Empty string means the field was absent in the source
// document; "0.00" means present and zero.
type TaxGroup struct {
	CST   string // situation code
	VBC   string // tax base
	Rate  string // pICMS / pPIS / pCOFINS
	Value string // vICMS / vPIS / vCOFINS
}

// IBSCBSGroup holds the combined IBS/CBS group fields. CClassTrib is the
// classification tag used only by this group.
type IBSCBSGroup struct {
	CST        string
	CClassTrib string
	VBC        string
	VIBS       string // state-level value
	VCBS       string // federal-level value
}

// Header is the document-level identity shared by every line item of one
// invoice. Immutable once extracted.
type Header struct {
	ChaveNFe         string // declared Id with the "NFe" prefix stripped
	NumeroNFe        string
	SerieNFe         string
	DataEmissao      string
	CNPJEmitente     string
	NomeEmitente     string
	CNPJDestinatario string
	NomeDestinatario string
}

// Record is the flattened join of one invoice header with one line item,
// plus source-file provenance. It is the unit of storage.
type Record struct {
	Header

	Item   string // nItem sequence within the invoice
	CProd  string
	XProd  string
	NCM    string
	CFOP   string
	UCom   string
	QCom   string
	VUnCom string
	VProd  string

	ICMS   TaxGroup
	PIS    TaxGroup
	COFINS TaxGroup
	IBSCBS IBSCBSGroup

	ArquivoOrigem string
}

// Key returns the composite dedup key (invoice key, item, product code).
func (r Record) Key() string {
	return r.ChaveNFe + "_" + r.Item + "_" + r.CProd
}

// RowKey computes the composite key directly from a persisted row.
// The row must have the full column arity.
func RowKey(row []string) string {
	return row[0] + "_" + row[8] + "_" + row[9]
}

// Row renders the record as a persisted row in column order.
func (r Record) Row() []string {
	return []string{
		r.ChaveNFe, r.NumeroNFe, r.SerieNFe, r.DataEmissao,
		r.CNPJEmitente, r.NomeEmitente,
		r.CNPJDestinatario, r.NomeDestinatario,

		r.Item, r.CProd, r.XProd, r.NCM, r.CFOP, r.UCom, r.QCom, r.VUnCom, r.VProd,

		r.ICMS.CST, r.ICMS.VBC, r.ICMS.Rate, r.ICMS.Value,
		r.PIS.CST, r.PIS.VBC, r.PIS.Rate, r.PIS.Value,
		r.COFINS.CST, r.COFINS.VBC, r.COFINS.Rate, r.COFINS.Value,

		r.IBSCBS.CST, r.IBSCBS.CClassTrib, r.IBSCBS.VBC, r.IBSCBS.VIBS, r.IBSCBS.VCBS,

		r.ArquivoOrigem,
	}
}

// FromRow rebuilds a Record from a persisted row. Returns an error when
// the row does not have the full column arity.
func FromRow(row []string) (Record, error) {
	if len(row) != ColumnCount {
		return Record{}, fmt.Errorf("row has %d columns, want %d", len(row), ColumnCount)
	}
	return Record{
		Header: Header{
			ChaveNFe:         row[0],
			NumeroNFe:        row[1],
			SerieNFe:         row[2],
			DataEmissao:      row[3],
			CNPJEmitente:     row[4],
			NomeEmitente:     row[5],
			CNPJDestinatario: row[6],
			NomeDestinatario: row[7],
		},
		Item:   row[8],
		CProd:  row[9],
		XProd:  row[10],
		NCM:    row[11],
		CFOP:   row[12],
		UCom:   row[13],
		QCom:   row[14],
		VUnCom: row[15],
		VProd:  row[16],
		ICMS:   TaxGroup{CST: row[17], VBC: row[18], Rate: row[19], Value: row[20]},
		PIS:    TaxGroup{CST: row[21], VBC: row[22], Rate: row[23], Value: row[24]},
		COFINS: TaxGroup{CST: row[25], VBC: row[26], Rate: row[27], Value: row[28]},
		IBSCBS: IBSCBSGroup{
			CST:        row[29],
			CClassTrib: row[30],
			VBC:        row[31],
			VIBS:       row[32],
			VCBS:       row[33],
		},
		ArquivoOrigem: row[34],
	}, nil
}
