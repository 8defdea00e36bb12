package suite

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codalotl/intentbench/internal/types"
)

//go:embed default.yml
var defaultSuiteYAML []byte

// Suite represents a query suite file: the closed label set, example
// utterances per label, and the extra prompt guidance.
type Suite struct {
	Name     string     `yaml:"name"`
	Labels   []Label    `yaml:"labels"`
	Guidance StringList `yaml:"guidance"`
	Examples []Example  `yaml:"examples"`
}

type Label struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Queries     StringList `yaml:"queries"`
}

type Example struct {
	Query      string  `yaml:"query"`
	Intent     string  `yaml:"intent"`
	Confidence float64 `yaml:"confidence"`
}

// Item is one (expected label, query) pair of the suite.
type Item struct {
	Label string
	Query string
}

// StringList allows unmarshalling a string or a slice of strings.
type StringList []string

// UnmarshalYAML makes StringList accept a string or a slice.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var v string
		if err := value.Decode(&v); err != nil {
			return err
		}
		if v != "" {
			*s = []string{v}
		}
		return nil
	case yaml.SequenceNode:
		var vals []string
		if err := value.Decode(&vals); err != nil {
			return err
		}
		*s = vals
		return nil
	case 0:
		// missing field is fine
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", value.Kind)
	}
}

// LabelSet is the closed set of labels a prediction may take. The sentinel
// "unknown" is always a member.
type LabelSet map[string]bool

func NewLabelSet(labels ...string) LabelSet {
	set := LabelSet{types.UnknownLabel: true}
	for _, l := range labels {
		set[l] = true
	}
	return set
}

func (s LabelSet) Contains(label string) bool {
	return s[label]
}

// Default returns the built-in suite.
func Default() *Suite {
	sc, err := Parse(defaultSuiteYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded suite: %v", err))
	}
	return sc
}

// Load reads a suite from a YAML path.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return sc, nil
}

func Parse(data []byte) (*Suite, error) {
	var sc Suite
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that labels are unique and non-empty and that every label
// carries at least one distinct, non-empty query.
func (s *Suite) Validate() error {
	if len(s.Labels) == 0 {
		return errors.New("suite must define at least one label")
	}
	seenLabels := map[string]bool{}
	seenQueries := map[string]string{}
	for i, l := range s.Labels {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			return fmt.Errorf("labels[%d]: name is required", i)
		}
		if name != l.Name {
			return fmt.Errorf("label %q: surrounding whitespace", l.Name)
		}
		if name == types.UnknownLabel {
			return fmt.Errorf("label %q is reserved for unclassifiable replies", name)
		}
		if seenLabels[name] {
			return fmt.Errorf("duplicate label %q", name)
		}
		seenLabels[name] = true
		if len(l.Queries) == 0 {
			return fmt.Errorf("label %q has no queries", name)
		}
		for _, q := range l.Queries {
			if strings.TrimSpace(q) == "" {
				return fmt.Errorf("label %q has an empty query", name)
			}
			if prev, ok := seenQueries[q]; ok {
				return fmt.Errorf("query %q appears under both %q and %q", q, prev, name)
			}
			seenQueries[q] = name
		}
	}
	for _, ex := range s.Examples {
		if ex.Intent != types.UnknownLabel && !seenLabels[ex.Intent] {
			return fmt.Errorf("example %q uses undeclared intent %q", ex.Query, ex.Intent)
		}
		if ex.Confidence < 0 || ex.Confidence > 1 {
			return fmt.Errorf("example %q confidence %v outside [0,1]", ex.Query, ex.Confidence)
		}
	}
	return nil
}

// LabelNames returns the declared labels in declaration order.
func (s *Suite) LabelNames() []string {
	out := make([]string, 0, len(s.Labels))
	for _, l := range s.Labels {
		out = append(out, l.Name)
	}
	return out
}

func (s *Suite) LabelSet() LabelSet {
	return NewLabelSet(s.LabelNames()...)
}

// Items flattens the suite into (label, query) pairs in declaration order.
func (s *Suite) Items() []Item {
	var out []Item
	for _, l := range s.Labels {
		for _, q := range l.Queries {
			out = append(out, Item{Label: l.Name, Query: q})
		}
	}
	return out
}

// SystemPrompt builds the classification instructions sent ahead of each query.
func (s *Suite) SystemPrompt() string {
	names := append(s.LabelNames(), types.UnknownLabel)

	var b strings.Builder
	b.WriteString("You are an intent classification tool. ")
	b.WriteString("Your job is to identify the user's intent behind a query and output the result in strict JSON format ")
	b.WriteString("with two keys: 'intent' and 'confidence'.\n\n")
	b.WriteString("Output format:\n")
	fmt.Fprintf(&b, "{ \"intent\": \"<one of: %s>\", \"confidence\": <float between 0 and 1> }\n\n", strings.Join(names, ", "))
	b.WriteString("Intent categories:\n")
	for _, l := range s.Labels {
		fmt.Fprintf(&b, "- '%s': %s\n", l.Name, strings.TrimSpace(l.Description))
	}
	fmt.Fprintf(&b, "- '%s': Use this if the query is vague, conversational, or doesn't match any known category.\n", types.UnknownLabel)
	if len(s.Guidance) > 0 {
		b.WriteString("\nIMPORTANT:\n")
		for _, g := range s.Guidance {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(g))
		}
	}
	if len(s.Examples) > 0 {
		b.WriteString("\nExamples:\n")
		for _, ex := range s.Examples {
			fmt.Fprintf(&b, "User: %s\n", ex.Query)
			fmt.Fprintf(&b, "{ \"intent\": \"%s\", \"confidence\": %s }\n\n", ex.Intent, strconv.FormatFloat(ex.Confidence, 'f', -1, 64))
		}
	}
	return b.String()
}
