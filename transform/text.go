package transform

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"ctitoolkit/metrics"
	"ctitoolkit/stix"
	"ctitoolkit/util"
)

// MissingValue is written for a mapped field that an observable lacks.
const MissingValue = "None"

// TextOptions configures a TextTransform.
type TextOptions struct {
	Separator     string
	IncludeHeader bool
	HeaderPrefix  string

	// HeaderLabels is the line written before all output. Empty means none.
	HeaderLabels []string

	// ObjectHeaderLabels is the line written before each object type. When
	// nil, the type's field paths are used; when non-nil, types missing from
	// the map get no header.
	ObjectHeaderLabels map[ObjectType][]string

	// Fields selects the object types and their columns. Nil renders every
	// type present in the package with all of its leaf fields.
	Fields FieldTable

	// EscapeQuotes doubles quotes inside quoted values and quotes values
	// containing a quote. Off, values are wrapped without escaping.
	EscapeQuotes bool
}

// DefaultTextOptions returns the options of the plain text output.
func DefaultTextOptions() TextOptions {
	return TextOptions{
		Separator:     "|",
		IncludeHeader: true,
		HeaderPrefix:  "#",
		HeaderLabels:  []string{"observable_type", "observable_fields"},
		Fields:        DefaultFields(),
	}
}

// ObjectRenderer turns one observable into output lines, each ending in a
// newline. An empty string renders nothing.
type ObjectRenderer interface {
	RenderObservable(obs Observable, fields []FieldPath) string
}

// RendererFunc adapts a function to ObjectRenderer.
type RendererFunc func(obs Observable, fields []FieldPath) string

func (f RendererFunc) RenderObservable(obs Observable, fields []FieldPath) string {
	return f(obs, fields)
}

// TextTransform renders a package as delimited text, one row per field set.
type TextTransform struct {
	opts      TextOptions
	groups    []Group
	renderers map[ObjectType]ObjectRenderer
	fallback  ObjectRenderer
	logger    *zap.SugaredLogger
	kind      string
}

// NewTextTransform extracts the observables of pkg according to opts.
func NewTextTransform(pkg *stix.Package, opts TextOptions, logger *zap.SugaredLogger) (*TextTransform, error) {
	if pkg == nil {
		return nil, ErrNilPackage
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	t := &TextTransform{
		opts:      opts,
		groups:    Collect(pkg, opts.Fields),
		renderers: make(map[ObjectType]ObjectRenderer),
		logger:    logger,
		kind:      "text",
	}
	t.fallback = RendererFunc(t.renderRows)
	return t, nil
}

// SetRenderer installs the renderer used for one object type.
func (t *TextTransform) SetRenderer(objectType ObjectType, r ObjectRenderer) {
	t.renderers[objectType] = r
}

// SetDefaultRenderer installs the renderer for types without their own.
func (t *TextTransform) SetDefaultRenderer(r ObjectRenderer) {
	t.fallback = r
}

func (t *TextTransform) group(objectType ObjectType) (Group, bool) {
	for _, g := range t.groups {
		if g.Type == objectType {
			return g, true
		}
	}
	return Group{}, false
}

// quote wraps a value containing the separator in double quotes.
func (t *TextTransform) quote(item string) string {
	needsQuote := strings.Contains(item, t.opts.Separator) ||
		(t.opts.EscapeQuotes && strings.Contains(item, `"`))
	if !needsQuote {
		return item
	}
	if t.opts.EscapeQuotes {
		item = strings.ReplaceAll(item, `"`, `""`)
	}
	return `"` + item + `"`
}

// Join joins items with the separator, quoting those that contain it.
func (t *TextTransform) Join(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = t.quote(item)
	}
	return strings.Join(quoted, t.opts.Separator)
}

func (t *TextTransform) headerLine(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return t.opts.HeaderPrefix + " " + t.Join(labels) + "\n"
}

// Header returns the line written before all output, or "".
func (t *TextTransform) Header() string {
	return t.headerLine(t.opts.HeaderLabels)
}

// HeaderForObjectType returns the line written before one type's rows, or "".
func (t *TextTransform) HeaderForObjectType(objectType ObjectType) string {
	if t.opts.ObjectHeaderLabels != nil {
		return t.headerLine(t.opts.ObjectHeaderLabels[objectType])
	}
	g, ok := t.group(objectType)
	if !ok {
		return ""
	}
	labels := make([]string, len(g.Fields))
	for i, f := range g.Fields {
		labels[i] = f.String()
	}
	return t.headerLine(labels)
}

// TextForFields renders one field set as a row without the newline.
func (t *TextTransform) TextForFields(set FieldSet, fields []FieldPath) string {
	values := make([]string, len(fields))
	for i, f := range fields {
		if v, ok := set[f.String()]; ok {
			values[i] = v
		} else {
			values[i] = MissingValue
		}
	}
	return t.Join(values)
}

func (t *TextTransform) renderRows(obs Observable, fields []FieldPath) string {
	var b strings.Builder
	for _, set := range obs.FieldSets {
		b.WriteString(t.TextForFields(set, fields))
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *TextTransform) renderer(objectType ObjectType) ObjectRenderer {
	if r, ok := t.renderers[objectType]; ok {
		return r
	}
	return t.fallback
}

// renderObservable isolates a panicking renderer: the observable is logged,
// counted as a render failure and skipped.
func (t *TextTransform) renderObservable(r ObjectRenderer, obs Observable, fields []FieldPath) (out string) {
	defer func() {
		if util.Recovered("observable "+obs.ID, recover(), t.logger) {
			out = ""
			metrics.RecordRenderFailure(t.kind)
		}
	}()
	return r.RenderObservable(obs, fields)
}

// TextForObjectType renders every observable of one type.
func (t *TextTransform) TextForObjectType(objectType ObjectType) string {
	text, _ := t.textForObjectType(objectType)
	return text
}

func (t *TextTransform) textForObjectType(objectType ObjectType) (string, int) {
	g, ok := t.group(objectType)
	if !ok {
		return "", 0
	}
	r := t.renderer(objectType)

	var b strings.Builder
	rendered := 0
	for _, obs := range g.Observables {
		out := t.renderObservable(r, obs, g.Fields)
		if out != "" {
			rendered++
			b.WriteString(out)
		}
	}
	return b.String(), rendered
}

// Text renders the whole package: the header, then for each object type in
// sorted order its header and rows. Types that render nothing are omitted
// together with their header.
func (t *TextTransform) Text() string {
	start := time.Now()
	defer func() {
		metrics.RecordTransformDuration(t.kind, time.Since(start).Seconds())
	}()

	var b strings.Builder
	if t.opts.IncludeHeader {
		b.WriteString(t.Header())
	}
	for _, g := range t.groups {
		text, rendered := t.textForObjectType(g.Type)
		if text == "" {
			continue
		}
		metrics.RecordObservables(string(g.Type), rendered)
		if t.opts.IncludeHeader {
			b.WriteString(t.HeaderForObjectType(g.Type))
		}
		b.WriteString(text)
	}
	return b.String()
}
