package grouping

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"fieldconfig-backend/internal/fieldconfig"
)

const DefaultGroup = "General"

var leadingWordRe = regexp.MustCompile(`^[A-Z]?[a-z]+`)

// Override reassigns matching keys to Group. Exactly one of Prefix or
// Expression is set; Expression is an expr-lang boolean over
// {key, label, mandatory, display, valueType}.
type Override struct {
	Prefix     string `mapstructure:"prefix" json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Expression string `mapstructure:"expression" json:"expression,omitempty" yaml:"expression,omitempty"`
	Group      string `mapstructure:"group" json:"group" yaml:"group"`

	program *vm.Program
}

// BuiltinOverrides is the fixed checklist applied before any configured
// overrides.
func BuiltinOverrides() []Override {
	return []Override{
		{Prefix: "IncoTerm", Group: "Inco Terms"},
		{Prefix: "Service", Group: "Service Provider"},
		{Prefix: "Payment", Group: "Payment"},
		{Prefix: "Release", Group: "Release"},
	}
}

// Assignment maps descriptor key to group name.
type Assignment map[string]string

// Group is one display section with its descriptors in render order.
type Group struct {
	Name   string                   `json:"name"`
	Fields []fieldconfig.Descriptor `json:"fields"`
}

// Engine derives group names from descriptor keys.
type Engine struct {
	overrides []Override
}

// New builds an engine from the builtin overrides followed by extra, in
// order. Expressions are compiled once here.
func New(extra ...Override) (*Engine, error) {
	all := append(BuiltinOverrides(), extra...)
	for i := range all {
		o := &all[i]
		if o.Group == "" {
			return nil, fmt.Errorf("override %d: group is required", i)
		}
		if (o.Prefix == "") == (o.Expression == "") {
			return nil, fmt.Errorf("override %d (%s): exactly one of prefix or expression is required", i, o.Group)
		}
		if o.Expression != "" {
			prog, err := expr.Compile(o.Expression, expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("override %d (%s): compile expression: %w", i, o.Group, err)
			}
			o.program = prog
		}
	}
	return &Engine{overrides: all}, nil
}

// Default returns an engine with only the builtin overrides.
func Default() *Engine {
	e, _ := New()
	return e
}

// GroupOf returns the group for a single descriptor. Every override is
// checked and each match overwrites the previous result, so the last
// matching override wins.
func (e *Engine) GroupOf(d fieldconfig.Descriptor) string {
	name := DefaultGroup
	if m := leadingWordRe.FindString(d.Key); m != "" {
		name = strings.ToUpper(m[:1]) + m[1:]
	}

	var env map[string]any
	for _, o := range e.overrides {
		if o.program == nil {
			if strings.HasPrefix(d.Key, o.Prefix) {
				name = o.Group
			}
			continue
		}
		if env == nil {
			env = map[string]any{
				"key":       d.Key,
				"label":     d.Label,
				"mandatory": d.Mandatory,
				"display":   d.Display,
				"valueType": string(d.ValueType),
			}
		}
		if out, err := expr.Run(o.program, env); err == nil {
			if ok, _ := out.(bool); ok {
				name = o.Group
			}
		}
	}
	return name
}

// Assign maps every key in seq to its group.
func (e *Engine) Assign(seq fieldconfig.Sequence) Assignment {
	out := make(Assignment, len(seq))
	for _, d := range seq {
		out[d.Key] = e.GroupOf(d)
	}
	return out
}

// Group partitions seq into groups ordered by first appearance. Within a
// group, mandatory descriptors come first, then by label, then by key.
// Each returned descriptor carries its Group name.
func (e *Engine) Group(seq fieldconfig.Sequence) []Group {
	var groups []Group
	index := map[string]int{}
	for _, d := range seq {
		d = d.Clone()
		d.Group = e.GroupOf(d)
		i, ok := index[d.Group]
		if !ok {
			i = len(groups)
			index[d.Group] = i
			groups = append(groups, Group{Name: d.Group})
		}
		groups[i].Fields = append(groups[i].Fields, d)
	}
	for _, g := range groups {
		sortFields(g.Fields)
	}
	return groups
}

func sortFields(fields []fieldconfig.Descriptor) {
	sort.SliceStable(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if a.Mandatory != b.Mandatory {
			return a.Mandatory
		}
		la, lb := strings.ToLower(a.Label), strings.ToLower(b.Label)
		if la != lb {
			return la < lb
		}
		return a.Key < b.Key
	})
}

// Names lists group names in order.
func Names(groups []Group) []string {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	return names
}
