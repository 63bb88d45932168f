package nfe

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/gconsian/nfex/internal/nfestore"
)

// The source format encodes "choose exactly one of N shapes" as N
// optional children inside each tax container. Each variant set below
// enumerates the recognized shapes; the resolver scans children in
// document order and stops at the first recognized one.

// icmsVariants covers the general regime codes and the simplified
// (Simples Nacional) regime codes.
var icmsVariants = []string{
	"ICMS00", "ICMS10", "ICMS20", "ICMS30",
	"ICMS40", "ICMS41", "ICMS50", "ICMS51",
	"ICMS60", "ICMS70", "ICMS90",
	"ICMSSN101", "ICMSSN102", "ICMSSN201", "ICMSSN202",
	"ICMSSN500", "ICMSSN900",
}

// pisVariants: rate-based, quantity-based, not-taxed, other, simplified.
var pisVariants = []string{"PISAliq", "PISQtde", "PISNT", "PISOutr", "PISSN"}

var cofinsVariants = []string{"COFINSAliq", "COFINSQtde", "COFINSNT", "COFINSOutr", "COFINSSN"}

// resolveTaxGroup locates the applicable variant block under the named
// group container and reads its four standard fields. rateTag and
// valueTag differ per group (pICMS/vICMS, pPIS/vPIS, pCOFINS/vCOFINS).
func resolveTaxGroup(imposto *etree.Element, group string, variants []string, rateTag, valueTag string) nfestore.TaxGroup {
	var out nfestore.TaxGroup
	if imposto == nil {
		return out
	}
	container := imposto.FindElement(".//" + group)
	if container == nil {
		return out
	}
	for _, child := range container.ChildElements() {
		if !matchesVariant(child.Tag, variants) {
			continue
		}
		out.CST = Text(child, "CST")
		out.VBC = Text(child, "vBC")
		out.Rate = Text(child, rateTag)
		out.Value = Text(child, valueTag)
		break
	}
	return out
}

// matchesVariant reports whether the local tag names one of the variant
// shapes. Substring match tolerates producer-specific suffixes.
func matchesVariant(tag string, variants []string) bool {
	for _, v := range variants {
		if strings.Contains(tag, v) {
			return true
		}
	}
	return false
}

func resolveICMS(imposto *etree.Element) nfestore.TaxGroup {
	return resolveTaxGroup(imposto, "ICMS", icmsVariants, "pICMS", "vICMS")
}

func resolvePIS(imposto *etree.Element) nfestore.TaxGroup {
	return resolveTaxGroup(imposto, "PIS", pisVariants, "pPIS", "vPIS")
}

func resolveCOFINS(imposto *etree.Element) nfestore.TaxGroup {
	return resolveTaxGroup(imposto, "COFINS", cofinsVariants, "pCOFINS", "vCOFINS")
}

// ibsBlockStrategies is the priority-ordered list of shapes the combined
// IBS/CBS group has taken across document versions. The first strategy
// that locates a block wins; when none does, only the bare federal value
// tag is searched (see resolveIBSCBS).
var ibsBlockStrategies = []struct {
	name string
	path string
}{
	{"combined block", ".//IBSCBS"},
	{"state component block", ".//IBS"},
}

// resolveIBSCBS extracts the combined IBS/CBS group for one line item.
//
// Older and newer producers nest the value fields at varying depths, so
// vBC, vIBS and vCBS are each looked up by any-depth search inside the
// located block rather than only as direct children. When the federal
// value is still unset after inspecting the block, one last any-depth
// search runs across the entire line item.
func resolveIBSCBS(det, imposto *etree.Element) nfestore.IBSCBSGroup {
	var out nfestore.IBSCBSGroup
	if imposto != nil {
		var block *etree.Element
		for _, s := range ibsBlockStrategies {
			if block = imposto.FindElement(s.path); block != nil {
				break
			}
		}
		if block == nil {
			out.VCBS = DeepText(imposto, "vCBS")
		} else {
			out.CST = Text(block, "CST")
			out.CClassTrib = Text(block, "cClassTrib")
			out.VBC = DeepText(block, "vBC")
			out.VIBS = DeepText(block, "vIBS")
			out.VCBS = DeepText(block, "vCBS")
			if out.VCBS == "" {
				out.VCBS = deepContainsText(block, "vCBS")
			}
		}
	}
	if out.VCBS == "" {
		out.VCBS = DeepText(det, "vCBS")
	}
	return out
}

// deepContainsText walks every descendant and returns the first
// non-blank text of an element whose tag merely contains name. Covers
// producers that decorate the tag (e.g. a grouped vCBSTot).
func deepContainsText(parent *etree.Element, name string) string {
	for _, el := range parent.FindElements(".//*") {
		if !strings.Contains(el.Tag, name) {
			continue
		}
		if text := strings.TrimSpace(el.Text()); text != "" {
			return text
		}
	}
	return ""
}
