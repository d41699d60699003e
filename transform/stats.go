package transform

import (
	"strconv"
	"strings"
	"time"

	"ctitoolkit/metrics"
	"ctitoolkit/stix"
)

// StatsOptions configures a StatsTransform. The defaults stand in for
// header fields the package leaves empty.
type StatsOptions struct {
	Separator          string
	HeaderPrefix       string
	DefaultTitle       string
	DefaultDescription string
	DefaultTLP         string
}

// DefaultStatsOptions returns pipe separated output with TLP AMBER assumed.
func DefaultStatsOptions() StatsOptions {
	return StatsOptions{
		Separator:    "|",
		HeaderPrefix: "#",
		DefaultTLP:   "AMBER",
	}
}

// TypeCount is the number of observables of one object type.
type TypeCount struct {
	Type  ObjectType
	Count int
}

// StatsTransform summarizes a package: its metadata and how many
// observables of each object type it holds.
type StatsTransform struct {
	opts StatsOptions
	pkg  *stix.Package
}

func NewStatsTransform(pkg *stix.Package, opts StatsOptions) (*StatsTransform, error) {
	if pkg == nil {
		return nil, ErrNilPackage
	}
	return &StatsTransform{opts: opts, pkg: pkg}, nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// Title returns the package title or the configured default.
func (s *StatsTransform) Title() string {
	return orDefault(s.pkg.Header.Title, s.opts.DefaultTitle)
}

// Description returns the package description or the configured default.
func (s *StatsTransform) Description() string {
	return orDefault(s.pkg.Header.Description, s.opts.DefaultDescription)
}

// TLP returns the package TLP colour or the configured default.
func (s *StatsTransform) TLP() string {
	return orDefault(s.pkg.Header.TLP, s.opts.DefaultTLP)
}

// Counts returns observable counts per object type, sorted by type.
func (s *StatsTransform) Counts() []TypeCount {
	byType := make(map[string]int)
	for _, o := range s.pkg.Observables {
		byType[o.ObjectType]++
	}

	types := s.pkg.ObjectTypes()
	counts := make([]TypeCount, len(types))
	for i, t := range types {
		counts[i] = TypeCount{Type: ObjectType(t), Count: byType[t]}
	}
	return counts
}

// Text renders the metadata as prefixed lines, then one
// "type<sep>count" row per object type and a closing total row.
func (s *StatsTransform) Text() string {
	start := time.Now()
	defer func() {
		metrics.RecordTransformDuration("stats", time.Since(start).Seconds())
	}()

	var b strings.Builder
	meta := [][2]string{
		{"package", s.pkg.ID},
		{"version", s.pkg.Version},
		{"title", s.Title()},
		{"description", s.Description()},
		{"tlp", s.TLP()},
		{"indicators", strconv.Itoa(s.pkg.Indicators)},
	}
	for _, kv := range meta {
		if kv[1] == "" {
			continue
		}
		b.WriteString(s.opts.HeaderPrefix + " " + kv[0] + ": " + kv[1] + "\n")
	}

	total := 0
	for _, c := range s.Counts() {
		total += c.Count
		b.WriteString(string(c.Type) + s.opts.Separator + strconv.Itoa(c.Count) + "\n")
	}
	b.WriteString("total" + s.opts.Separator + strconv.Itoa(total) + "\n")
	return b.String()
}
