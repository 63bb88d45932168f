// Package nfe extracts normalized line-item records from NF-e XML
// documents. Extraction is a pure function of document content: it
// tolerates namespace variation and several historical shapes of the
// tax sub-schemas, and never fails on individually missing fields.
package nfe

import (
	"strings"

	"github.com/beevik/etree"
)

// Text returns the trimmed text of the first child with the given tag,
// or "" when the parent is nil, the tag is absent, or the text is blank
// after trimming. Absence is normal, not exceptional.
func Text(parent *etree.Element, tag string) string {
	if parent == nil {
		return ""
	}
	el := parent.SelectElement(tag)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// DeepText is Text with an any-depth search: the first matching element
// anywhere under parent wins. Used for tax fields whose nesting moved
// between schema versions.
func DeepText(parent *etree.Element, tag string) string {
	if parent == nil {
		return ""
	}
	el := parent.FindElement(".//" + tag)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
