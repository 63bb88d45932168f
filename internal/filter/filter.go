// Package filter compiles record filter expressions for the records and
// export commands, using expr-lang/expr against a fixed environment of
// field names.
//
// Example expressions:
//
//	icms.cst == "40"
//	cfop == "5102" and ncm startsWith "8471"
//	ibscbs.vcbs != ""
package filter

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/gconsian/nfex/internal/nfestore"
)

// taxEnv exposes one ICMS/PIS/COFINS group to expressions.
type taxEnv struct {
	CST   string `expr:"cst"`
	VBC   string `expr:"vbc"`
	Rate  string `expr:"rate"`
	Value string `expr:"value"`
}

// ibscbsEnv exposes the combined IBS/CBS group.
type ibscbsEnv struct {
	CST        string `expr:"cst"`
	CClassTrib string `expr:"cclasstrib"`
	VBC        string `expr:"vbc"`
	VIBS       string `expr:"vibs"`
	VCBS       string `expr:"vcbs"`
}

// Env is the expression environment, one value per record.
type Env struct {
	Chave   string `expr:"chave"`
	Numero  string `expr:"numero"`
	Serie   string `expr:"serie"`
	Emissao string `expr:"emissao"`

	Emitente         string `expr:"emitente"`
	CNPJEmitente     string `expr:"cnpj_emitente"`
	Destinatario     string `expr:"destinatario"`
	CNPJDestinatario string `expr:"cnpj_destinatario"`

	Item   string `expr:"item"`
	CProd  string `expr:"cprod"`
	XProd  string `expr:"xprod"`
	NCM    string `expr:"ncm"`
	CFOP   string `expr:"cfop"`
	UCom   string `expr:"ucom"`
	QCom   string `expr:"qcom"`
	VUnCom string `expr:"vuncom"`
	VProd  string `expr:"vprod"`

	ICMS   taxEnv    `expr:"icms"`
	PIS    taxEnv    `expr:"pis"`
	COFINS taxEnv    `expr:"cofins"`
	IBSCBS ibscbsEnv `expr:"ibscbs"`

	Arquivo string `expr:"arquivo"`
}

func toEnv(r nfestore.Record) Env {
	return Env{
		Chave:   r.ChaveNFe,
		Numero:  r.NumeroNFe,
		Serie:   r.SerieNFe,
		Emissao: r.DataEmissao,

		Emitente:         r.NomeEmitente,
		CNPJEmitente:     r.CNPJEmitente,
		Destinatario:     r.NomeDestinatario,
		CNPJDestinatario: r.CNPJDestinatario,

		Item:   r.Item,
		CProd:  r.CProd,
		XProd:  r.XProd,
		NCM:    r.NCM,
		CFOP:   r.CFOP,
		UCom:   r.UCom,
		QCom:   r.QCom,
		VUnCom: r.VUnCom,
		VProd:  r.VProd,

		ICMS:   taxEnv{CST: r.ICMS.CST, VBC: r.ICMS.VBC, Rate: r.ICMS.Rate, Value: r.ICMS.Value},
		PIS:    taxEnv{CST: r.PIS.CST, VBC: r.PIS.VBC, Rate: r.PIS.Rate, Value: r.PIS.Value},
		COFINS: taxEnv{CST: r.COFINS.CST, VBC: r.COFINS.VBC, Rate: r.COFINS.Rate, Value: r.COFINS.Value},
		IBSCBS: ibscbsEnv{
			CST:        r.IBSCBS.CST,
			CClassTrib: r.IBSCBS.CClassTrib,
			VBC:        r.IBSCBS.VBC,
			VIBS:       r.IBSCBS.VIBS,
			VCBS:       r.IBSCBS.VCBS,
		},

		Arquivo: r.ArquivoOrigem,
	}
}

// Predicate reports whether a record matches a compiled filter.
type Predicate func(nfestore.Record) bool

// Compile compiles a filter expression into a predicate. The expression
// must evaluate to a boolean. Records whose evaluation errors do not
// match.
func Compile(src string) (Predicate, error) {
	program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", src, err)
	}
	return predicate(program), nil
}

func predicate(program *vm.Program) Predicate {
	return func(r nfestore.Record) bool {
		out, err := expr.Run(program, toEnv(r))
		if err != nil {
			return false
		}
		b, ok := out.(bool)
		return ok && b
	}
}
