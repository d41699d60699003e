package stix

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/htmlindex"
)

const xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"

// observableNamespace seeds the name-based UUIDs given to observables that
// carry no id of their own.
var observableNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:ctitoolkit:observable"))

// Parse reads a STIX package. A well-formed package of another version
// yields *UnsupportedVersionError; every other failure yields *ParseError.
func Parse(r io.Reader) (*Package, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("reading document: %w", err)}
	}
	return ParseBytes(raw)
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(raw []byte) (*Package, error) {
	d := newDecoder(bytes.NewReader(raw))

	root, err := firstElement(d)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if root.Name.Local != "STIX_Package" {
		return nil, &ParseError{Err: fmt.Errorf("%w: found %s", ErrNotSTIXPackage, root.Name.Local)}
	}

	version := attrValue(root, "version")
	if version != "" && version != LatestVersion {
		return nil, &UnsupportedVersionError{Version: version}
	}

	p := &packageParser{
		d: d,
		pkg: &Package{
			ID:        attrValue(root, "id"),
			Version:   version,
			Timestamp: attrValue(root, "timestamp"),
			xml:       raw,
		},
		seen: make(map[string]bool),
	}
	if err := p.walk(); err != nil {
		return nil, &ParseError{Err: err}
	}
	return p.pkg, nil
}

func newDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedCharset, label)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return d
}

func firstElement(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, ErrEmptyDocument
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func attrValue(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}

func xsiType(se xml.StartElement) string {
	for _, a := range se.Attr {
		if a.Name.Local == "type" && (a.Name.Space == xsiNamespace || a.Name.Space == "xsi") {
			return a.Value
		}
	}
	return ""
}

type observableFrame struct {
	id       string
	objectID string
	obs      *Observable
}

type packageParser struct {
	d      *xml.Decoder
	pkg    *Package
	stack  []string // open elements below the root
	frames []*observableFrame
	seen   map[string]bool
	count  int
}

func (p *packageParser) parent() string {
	if len(p.stack) == 0 {
		return "STIX_Package"
	}
	return p.stack[len(p.stack)-1]
}

func (p *packageParser) grandparent() string {
	if len(p.stack) < 2 {
		return ""
	}
	return p.stack[len(p.stack)-2]
}

func (p *packageParser) within(name string) bool {
	for _, s := range p.stack {
		if s == name {
			return true
		}
	}
	return false
}

func (p *packageParser) walk() error {
	for {
		tok, err := p.d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.start(t); err != nil {
				return err
			}
		case xml.EndElement:
			p.end(t)
		}
	}
}

func (p *packageParser) start(se xml.StartElement) error {
	name := se.Name.Local

	// Elements read whole; they are never pushed.
	switch {
	case (name == "Title" || name == "Description") && p.parent() == "STIX_Header":
		node, err := readNode(p.d, se)
		if err != nil {
			return err
		}
		if name == "Title" {
			p.pkg.Header.Title = node.Value
		} else {
			p.pkg.Header.Description = node.Value
		}
		return nil
	case name == "Properties" && p.parent() == "Object" && p.grandparent() == "Observable" && len(p.frames) > 0:
		node, err := readNode(p.d, se)
		if err != nil {
			return err
		}
		frame := p.frames[len(p.frames)-1]
		xt := xsiType(se)
		frame.obs = &Observable{
			ObjectID:   frame.objectID,
			XSIType:    xt,
			ObjectType: ObjectTypeFromXSI(xt),
			Properties: node,
		}
		return nil
	}

	switch {
	case name == "Marking_Structure" && p.within("STIX_Header"):
		if strings.HasSuffix(xsiType(se), "TLPMarkingStructureType") {
			p.pkg.Header.TLP = attrValue(se, "color")
		}
	case name == "Indicator" && p.parent() == "Indicators":
		p.pkg.Indicators++
	case name == "Observable":
		p.frames = append(p.frames, &observableFrame{id: attrValue(se, "id")})
	case name == "Object" && p.parent() == "Observable" && len(p.frames) > 0:
		p.frames[len(p.frames)-1].objectID = attrValue(se, "id")
	}

	p.stack = append(p.stack, name)
	return nil
}

func (p *packageParser) end(ee xml.EndElement) {
	if len(p.stack) == 0 {
		return
	}
	p.stack = p.stack[:len(p.stack)-1]

	if ee.Name.Local != "Observable" || len(p.frames) == 0 {
		return
	}
	frame := p.frames[len(p.frames)-1]
	p.frames = p.frames[:len(p.frames)-1]
	if frame.obs == nil {
		return
	}

	p.count++
	obs := *frame.obs
	obs.ID = frame.id
	if obs.ID == "" {
		obs.ID = frame.objectID
	}
	if obs.ID == "" {
		name := p.pkg.ID + "/" + strconv.Itoa(p.count)
		obs.ID = "ctitoolkit:Observable-" + uuid.NewSHA1(observableNamespace, []byte(name)).String()
	}
	if p.seen[obs.ID] {
		return
	}
	p.seen[obs.ID] = true
	p.pkg.Observables = append(p.pkg.Observables, obs)
}

// readNode consumes the element opened by start, including its end tag.
func readNode(d *xml.Decoder, start xml.StartElement) (*Node, error) {
	n := &Node{Name: NormalizeName(start.Name.Local)}
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := readNode(d, t)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child.expand()...)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(n.Children) == 0 {
				n.Value = strings.TrimSpace(text.String())
			}
			return n, nil
		}
	}
}

// expand splits a leaf holding a ##comma## list into sibling leaves.
func (n *Node) expand() []*Node {
	if !n.IsLeaf() || !strings.Contains(n.Value, listDelimiter) {
		return []*Node{n}
	}
	parts := strings.Split(n.Value, listDelimiter)
	out := make([]*Node, 0, len(parts))
	for _, v := range parts {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, &Node{Name: n.Name, Value: v})
	}
	return out
}
