package nfe

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/gconsian/nfex/internal/nfestore"
)

// Status classifies the terminal outcome of extracting one document.
type Status int

const (
	// StatusOK means the document parsed and yielded records.
	StatusOK Status = iota
	// StatusNoItems means the document parsed but holds no line items.
	// A warning, not an error; the batch continues.
	StatusNoItems
	// StatusMalformed means the document could not be parsed even after
	// cleanup, or its NFe element is missing.
	StatusMalformed
	// StatusMissingInfNFe means the invoice-info container is absent.
	StatusMissingInfNFe
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoItems:
		return "no line items"
	case StatusMalformed:
		return "malformed document"
	case StatusMissingInfNFe:
		return "missing invoice container"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the document-level outcome returned alongside the records.
type Result struct {
	Status  Status
	Message string
	Count   int
}

// Failed reports whether the document as a whole failed extraction.
// StatusNoItems is a warning and does not count as failure.
func (r Result) Failed() bool {
	return r.Status == StatusMalformed || r.Status == StatusMissingInfNFe
}

var (
	xmlnsPattern      = regexp.MustCompile(`xmlns(:[^=]+)?="[^"]*"`)
	prologPattern     = regexp.MustCompile(`<\?xml[^?>]*\?>`)
	stylesheetPattern = regexp.MustCompile(`<\?xml-stylesheet[^?>]*\?>`)
	encodingPattern   = regexp.MustCompile(`(?i)encoding\s*=\s*["']([A-Za-z0-9._-]+)["']`)
)

// Extract parses one NF-e document and returns a normalized record per
// line item plus the document-level result. It is a pure function of the
// file content; the only side effect is reading the file.
func Extract(path string) ([]nfestore.Record, Result) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Result{Status: StatusMalformed, Message: fmt.Sprintf("read file: %v", err)}
	}
	return ExtractBytes(data, filepath.Base(path))
}

// ExtractBytes extracts records from raw document content. origin is
// recorded on each record as source-file provenance.
func ExtractBytes(data []byte, origin string) ([]nfestore.Record, Result) {
	content := decodeCharset(data)

	// The field names are not namespace-sensitive once the declarations
	// are gone, which avoids namespace-aware querying entirely.
	content = xmlnsPattern.ReplaceAllString(content, "")
	content = prologPattern.ReplaceAllString(content, "")

	doc := etree.NewDocument()
	if err := doc.ReadFromString(content); err != nil {
		content = stylesheetPattern.ReplaceAllString(content, "")
		doc = etree.NewDocument()
		if err := doc.ReadFromString(content); err != nil {
			return nil, Result{Status: StatusMalformed, Message: fmt.Sprintf("parse: %v", err)}
		}
	}

	root := doc.Root()
	if root == nil {
		return nil, Result{Status: StatusMalformed, Message: "empty document"}
	}

	nfeNode := root.FindElement(".//NFe")
	if nfeNode == nil {
		if strings.Contains(root.Tag, "NFe") {
			nfeNode = root
		} else {
			return nil, Result{Status: StatusMalformed, Message: "NFe element not found"}
		}
	}

	infNFe := nfeNode.FindElement(".//infNFe")
	if infNFe == nil {
		return nil, Result{Status: StatusMissingInfNFe, Message: "infNFe element not found"}
	}

	header := extractHeader(infNFe)

	items := infNFe.FindElements(".//det")
	if len(items) == 0 {
		return nil, Result{Status: StatusNoItems, Message: "no det elements found"}
	}

	records := make([]nfestore.Record, 0, len(items))
	for _, det := range items {
		// A line item without its product sub-block is malformed on its
		// own; skip it, the rest of the document still processes.
		prod := det.FindElement(".//prod")
		if prod == nil {
			continue
		}
		imposto := det.FindElement(".//imposto")

		records = append(records, nfestore.Record{
			Header: header,

			Item:   det.SelectAttrValue("nItem", ""),
			CProd:  Text(prod, "cProd"),
			XProd:  Text(prod, "xProd"),
			NCM:    Text(prod, "NCM"),
			CFOP:   Text(prod, "CFOP"),
			UCom:   Text(prod, "uCom"),
			QCom:   Text(prod, "qCom"),
			VUnCom: Text(prod, "vUnCom"),
			VProd:  Text(prod, "vProd"),

			ICMS:   resolveICMS(imposto),
			PIS:    resolvePIS(imposto),
			COFINS: resolveCOFINS(imposto),
			IBSCBS: resolveIBSCBS(det, imposto),

			ArquivoOrigem: origin,
		})
	}

	return records, Result{
		Status:  StatusOK,
		Message: fmt.Sprintf("found %d record(s)", len(records)),
		Count:   len(records),
	}
}

// extractHeader reads the document-level fields once. Missing fields
// default to empty and never block extraction.
func extractHeader(infNFe *etree.Element) nfestore.Header {
	ide := infNFe.FindElement(".//ide")
	emit := infNFe.FindElement(".//emit")
	dest := infNFe.FindElement(".//dest")

	return nfestore.Header{
		ChaveNFe:         strings.ReplaceAll(infNFe.SelectAttrValue("Id", ""), "NFe", ""),
		NumeroNFe:        Text(ide, "nNF"),
		SerieNFe:         Text(ide, "serie"),
		DataEmissao:      Text(ide, "dhEmi"),
		CNPJEmitente:     Text(emit, "CNPJ"),
		NomeEmitente:     Text(emit, "xNome"),
		CNPJDestinatario: Text(dest, "CNPJ"),
		NomeDestinatario: Text(dest, "xNome"),
	}
}

// decodeCharset transcodes the document to UTF-8 when its XML
// declaration names another encoding. Brazilian NF-e producers commonly
// emit ISO-8859-1. Unknown or missing encodings pass through untouched.
func decodeCharset(data []byte) string {
	m := encodingPattern.FindSubmatch(data)
	if m == nil {
		return string(data)
	}
	name := strings.ToLower(string(m[1]))
	if name == "utf-8" || name == "utf8" {
		return string(data)
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return string(data)
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}
