package stix

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// versionChain lists the STIX 1.x releases in upgrade order.
var versionChain = []string{"1.0", "1.0.1", "1.1", "1.1.1", "1.2"}

// cyboxVersions is the CybOX release bundled with each STIX release, as
// major, minor and update components.
var cyboxVersions = map[string][3]string{
	"1.0":   {"2", "0", "0"},
	"1.0.1": {"2", "0", "1"},
	"1.1":   {"2", "1", "0"},
	"1.1.1": {"2", "1", "0"},
	"1.2":   {"2", "1", "0"},
}

// UpgradeResult is a document rewritten to a newer STIX version.
type UpgradeResult struct {
	From string
	To   string

	doc []byte
}

// Document returns the upgraded document as a stream, ready to be parsed.
func (r *UpgradeResult) Document() io.Reader {
	return bytes.NewReader(r.doc)
}

func versionIndex(v string) int {
	for i, known := range versionChain {
		if known == v {
			return i
		}
	}
	return -1
}

// Upgrade rewrites the version markers of a STIX package to the target
// version. The STIX version attributes equal to the source version and the
// cybox_*_version attributes of Observables elements are updated; everything
// else is copied token by token. The output is always UTF-8.
func Upgrade(raw []byte, to string) (*UpgradeResult, error) {
	root, err := firstElement(newDecoder(bytes.NewReader(raw)))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if root.Name.Local != "STIX_Package" {
		return nil, &ParseError{Err: fmt.Errorf("%w: found %s", ErrNotSTIXPackage, root.Name.Local)}
	}

	from := attrValue(root, "version")
	fromIdx, toIdx := versionIndex(from), versionIndex(to)
	if fromIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, from)
	}
	if toIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, to)
	}
	if toIdx < fromIdx {
		return nil, fmt.Errorf("cannot downgrade STIX %s to %s: %w", from, to, ErrUnknownVersion)
	}

	result := &UpgradeResult{From: from, To: to}
	if fromIdx == toIdx {
		result.doc = append([]byte(nil), raw...)
		return result, nil
	}

	doc, err := rewriteVersions(raw, from, to)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	result.doc = doc
	return result, nil
}

func rewriteVersions(raw []byte, from, to string) ([]byte, error) {
	d := newDecoder(bytes.NewReader(raw))
	w := &tokenWriter{}
	cybox := cyboxVersions[to]
	depth := 0

	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			for i, a := range t.Attr {
				if a.Name.Space != "" {
					continue
				}
				switch {
				case a.Name.Local == "version" && (a.Value == from || depth == 1):
					t.Attr[i].Value = to
				case t.Name.Local == "Observables" && a.Name.Local == "cybox_major_version":
					t.Attr[i].Value = cybox[0]
				case t.Name.Local == "Observables" && a.Name.Local == "cybox_minor_version":
					t.Attr[i].Value = cybox[1]
				case t.Name.Local == "Observables" && a.Name.Local == "cybox_update_version":
					t.Attr[i].Value = cybox[2]
				}
			}
			w.start(t)
		case xml.EndElement:
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unexpected end element </%s>", t.Name.Local)
			}
			w.end(t)
		case xml.CharData:
			w.text(t)
		case xml.Comment:
			w.comment(t)
		case xml.ProcInst:
			w.procInst(t)
		case xml.Directive:
			w.directive(t)
		}
	}
	if depth != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return w.buf.Bytes(), nil
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", "\"", "&quot;",
		"\n", "&#xA;", "\r", "&#xD;", "\t", "&#x9;")
)

// tokenWriter serializes raw tokens, keeping namespace prefixes as written.
type tokenWriter struct {
	buf bytes.Buffer
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func (w *tokenWriter) start(se xml.StartElement) {
	w.buf.WriteByte('<')
	w.buf.WriteString(qualified(se.Name))
	for _, a := range se.Attr {
		w.buf.WriteByte(' ')
		w.buf.WriteString(qualified(a.Name))
		w.buf.WriteString(`="`)
		w.buf.WriteString(attrEscaper.Replace(a.Value))
		w.buf.WriteByte('"')
	}
	w.buf.WriteByte('>')
}

func (w *tokenWriter) end(ee xml.EndElement) {
	w.buf.WriteString("</")
	w.buf.WriteString(qualified(ee.Name))
	w.buf.WriteByte('>')
}

func (w *tokenWriter) text(cd xml.CharData) {
	w.buf.WriteString(textEscaper.Replace(string(cd)))
}

func (w *tokenWriter) comment(c xml.Comment) {
	w.buf.WriteString("<!--")
	w.buf.Write(c)
	w.buf.WriteString("-->")
}

func (w *tokenWriter) procInst(pi xml.ProcInst) {
	if pi.Target == "xml" {
		// The decoder has already converted the input to UTF-8.
		w.buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
		return
	}
	w.buf.WriteString("<?")
	w.buf.WriteString(pi.Target)
	if len(pi.Inst) > 0 {
		w.buf.WriteByte(' ')
		w.buf.Write(pi.Inst)
	}
	w.buf.WriteString("?>")
}

func (w *tokenWriter) directive(d xml.Directive) {
	w.buf.WriteString("<!")
	w.buf.Write(d)
	w.buf.WriteByte('>')
}
