package nfestore

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		Header: Header{
			ChaveNFe:         "35240112345678000199550010000012341000012349",
			NumeroNFe:        "1234",
			SerieNFe:         "1",
			DataEmissao:      "2024-01-15T10:30:00-03:00",
			CNPJEmitente:     "12345678000199",
			NomeEmitente:     "Fornecedora Alfa LTDA",
			CNPJDestinatario: "98765432000188",
			NomeDestinatario: "Compradora Beta SA",
		},
		Item:   "1",
		CProd:  "A1",
		XProd:  "Caneta azul",
		NCM:    "96081000",
		CFOP:   "5102",
		UCom:   "UN",
		QCom:   "10.0000",
		VUnCom: "2.5000",
		VProd:  "25.00",
		ICMS:   TaxGroup{CST: "00", VBC: "25.00", Rate: "18.00", Value: "4.50"},
		PIS:    TaxGroup{CST: "01", VBC: "25.00", Rate: "1.65", Value: "0.41"},
		COFINS: TaxGroup{CST: "01", VBC: "25.00", Rate: "7.60", Value: "1.90"},
		IBSCBS: IBSCBSGroup{CST: "000", CClassTrib: "000001", VBC: "25.00", VIBS: "2.20", VCBS: "0.30"},

		ArquivoOrigem: "nota.xml",
	}
}

// The persisted column layout is load-bearing for every external reader
// of the shared store; the golden file pins it.
func TestColumnsGolden(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "columns", []byte(strings.Join(Columns, ",")+"\n"))
}

func TestRowMatchesColumnSchema(t *testing.T) {
	rec := sampleRecord()
	row := rec.Row()

	require.Len(t, row, ColumnCount)

	// Key positions the composite key and the merge depend on.
	assert.Equal(t, rec.ChaveNFe, row[0])
	assert.Equal(t, rec.Item, row[8])
	assert.Equal(t, rec.CProd, row[9])
	assert.Equal(t, rec.ArquivoOrigem, row[ColumnCount-1])
}

func TestFromRowRoundTrip(t *testing.T) {
	rec := sampleRecord()
	got, err := FromRow(rec.Row())
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestFromRowRejectsWrongArity(t *testing.T) {
	_, err := FromRow([]string{"a", "b", "c"})
	assert.Error(t, err)

	_, err = FromRow(make([]string, ColumnCount+1))
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	rec := sampleRecord()
	assert.Equal(t,
		"35240112345678000199550010000012341000012349_1_A1",
		rec.Key())
	assert.Equal(t, rec.Key(), RowKey(rec.Row()))
}
