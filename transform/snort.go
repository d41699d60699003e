package transform

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ctitoolkit/metrics"
	"ctitoolkit/stix"
)

// SnortActions are the rule actions Snort accepts.
var SnortActions = []string{"alert", "log", "pass", "activate", "dynamic", "drop", "reject", "sdrop"}

const (
	DefaultSnortInitialSID   = 5500000
	DefaultSnortRuleRevision = 1
	DefaultSnortRuleAction   = "alert"
)

const (
	snortAddressField = "address_value"
	snortRuleFormat   = `%s ip any any -> %s any (flow:established,to_server; msg:"CTI-TOOLKIT Connection to potentially malicious server %s (ID %s)"; sid:%d; rev:%d; classtype:bad-unknown;)`
)

// IsSnortAction reports whether action is a valid Snort rule action.
func IsSnortAction(action string) bool {
	for _, a := range SnortActions {
		if a == action {
			return true
		}
	}
	return false
}

// SnortOptions configures a SnortTransform.
type SnortOptions struct {
	TextOptions

	InitialSID   int
	RuleRevision int
	RuleAction   string
}

// DefaultSnortOptions returns tab separated output without headers, starting
// at sid 5500000.
func DefaultSnortOptions() SnortOptions {
	return SnortOptions{
		TextOptions: TextOptions{
			Separator:          "\t",
			IncludeHeader:      false,
			HeaderPrefix:       "#",
			ObjectHeaderLabels: map[ObjectType][]string{},
			Fields:             DefaultFields(),
		},
		InitialSID:   DefaultSnortInitialSID,
		RuleRevision: DefaultSnortRuleRevision,
		RuleAction:   DefaultSnortRuleAction,
	}
}

// SnortTransform renders Address observables as Snort rules. Every other
// object type renders nothing. Each emitted rule takes the next sid, and
// every call to Text numbers its rules from the initial sid again.
type SnortTransform struct {
	*TextTransform

	initialSID int
	sid        int
	revision   int
	action     string
}

// NewSnortTransform builds a transform whose first rule gets opts.InitialSID.
func NewSnortTransform(pkg *stix.Package, opts SnortOptions, logger *zap.SugaredLogger) (*SnortTransform, error) {
	if !IsSnortAction(opts.RuleAction) {
		return nil, fmt.Errorf("invalid snort rule action %q: must be one of %s",
			opts.RuleAction, strings.Join(SnortActions, ", "))
	}

	text, err := NewTextTransform(pkg, opts.TextOptions, logger)
	if err != nil {
		return nil, err
	}
	text.kind = "snort"

	s := &SnortTransform{
		TextTransform: text,
		initialSID:    opts.InitialSID,
		sid:           opts.InitialSID,
		revision:      opts.RuleRevision,
		action:        opts.RuleAction,
	}
	s.SetDefaultRenderer(RendererFunc(func(Observable, []FieldPath) string { return "" }))
	s.SetRenderer(ObjectAddress, RendererFunc(s.renderAddress))
	return s, nil
}

// Text renders the rules of the whole package starting at the initial sid.
func (s *SnortTransform) Text() string {
	s.sid = s.initialSID
	return s.TextTransform.Text()
}

// TextForObjectType renders the rules of one object type starting at the
// initial sid.
func (s *SnortTransform) TextForObjectType(objectType ObjectType) string {
	s.sid = s.initialSID
	return s.TextTransform.TextForObjectType(objectType)
}

// NextSID returns the sid following the last rule rendered, or the initial
// sid before any render. A batch seeds the next package's transform with it
// so sids never repeat.
func (s *SnortTransform) NextSID() int {
	return s.sid
}

// Rule formats one rule for an address without consuming a sid.
func (s *SnortTransform) Rule(address, observableID string, sid int) string {
	return fmt.Sprintf(snortRuleFormat, s.action, address, address, observableID, sid, s.revision)
}

// renderAddress emits a rule for each field set carrying an address. Sets
// without one are skipped and do not advance the sid.
func (s *SnortTransform) renderAddress(obs Observable, _ []FieldPath) string {
	var b strings.Builder
	for _, set := range obs.FieldSets {
		address, ok := set[snortAddressField]
		if !ok {
			continue
		}
		b.WriteString(s.Rule(address, obs.ID, s.sid))
		b.WriteByte('\n')
		s.sid++
		metrics.RecordSnortRule()
	}
	return b.String()
}
