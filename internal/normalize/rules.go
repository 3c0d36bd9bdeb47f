package normalize

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// KeywordRule maps item-name substrings to a category.
type KeywordRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// Rules holds the heuristic tables used by the normalizer.
// They are data, not code, so they can be tested and extended independently.
type Rules struct {
	GenericMerchants   []string      `yaml:"generic_merchants"`
	BoilerplateMarkers []string      `yaml:"boilerplate_markers"`
	DateLayouts        []string      `yaml:"date_layouts"`
	EarliestDate       string        `yaml:"earliest_date"`
	TotalTolerance     float64       `yaml:"total_tolerance"`
	DefaultCategory    string        `yaml:"default_category"`
	CategoryKeywords   []KeywordRule `yaml:"category_keywords"`
}

// DefaultRules returns the embedded rule tables.
func DefaultRules() Rules {
	var r Rules
	if err := yaml.Unmarshal(defaultRulesYAML, &r); err != nil {
		panic(fmt.Sprintf("normalize: embedded rules.yaml is invalid: %v", err))
	}
	return r
}

// LoadRules reads rule tables from a YAML file. Keys missing from the file
// keep their embedded defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("LoadRules: reading %q: %w", path, err)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Rules{}, fmt.Errorf("LoadRules: parsing %q: %w", path, err)
	}

	if len(override.GenericMerchants) > 0 {
		rules.GenericMerchants = override.GenericMerchants
	}
	if len(override.BoilerplateMarkers) > 0 {
		rules.BoilerplateMarkers = override.BoilerplateMarkers
	}
	if len(override.DateLayouts) > 0 {
		rules.DateLayouts = override.DateLayouts
	}
	if override.EarliestDate != "" {
		rules.EarliestDate = override.EarliestDate
	}
	if override.TotalTolerance > 0 {
		rules.TotalTolerance = override.TotalTolerance
	}
	if override.DefaultCategory != "" {
		rules.DefaultCategory = override.DefaultCategory
	}
	if len(override.CategoryKeywords) > 0 {
		rules.CategoryKeywords = override.CategoryKeywords
	}

	if _, err := rules.compile(); err != nil {
		return Rules{}, fmt.Errorf("LoadRules: %w", err)
	}
	return rules, nil
}

// compiledRules is the lookup-ready form of Rules.
type compiledRules struct {
	generic         map[string]bool
	boilerplate     *regexp.Regexp
	dateLayouts     []string
	earliest        civil.Date
	tolerance       float64
	defaultCategory string
	keywords        []KeywordRule
}

func (r Rules) compile() (*compiledRules, error) {
	c := &compiledRules{
		generic:         make(map[string]bool, len(r.GenericMerchants)),
		dateLayouts:     r.DateLayouts,
		tolerance:       r.TotalTolerance,
		defaultCategory: strings.TrimSpace(r.DefaultCategory),
	}

	for _, g := range r.GenericMerchants {
		c.generic[canonicalMerchant(g)] = true
	}

	if len(r.BoilerplateMarkers) > 0 {
		quoted := make([]string, 0, len(r.BoilerplateMarkers))
		for _, m := range r.BoilerplateMarkers {
			m = strings.TrimSpace(m)
			if m != "" {
				quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(m)))
			}
		}
		re, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compiling boilerplate markers: %w", err)
		}
		c.boilerplate = re
	}

	if r.EarliestDate != "" {
		d, err := civil.ParseDate(r.EarliestDate)
		if err != nil {
			return nil, fmt.Errorf("invalid earliest_date %q: %w", r.EarliestDate, err)
		}
		c.earliest = d
	} else {
		c.earliest = civil.DateOf(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	}

	if c.defaultCategory == "" {
		c.defaultCategory = domain.DefaultCategory
	}

	for _, kr := range r.CategoryKeywords {
		rule := KeywordRule{Category: strings.TrimSpace(kr.Category)}
		for _, k := range kr.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				rule.Keywords = append(rule.Keywords, k)
			}
		}
		if rule.Category != "" && len(rule.Keywords) > 0 {
			c.keywords = append(c.keywords, rule)
		}
	}

	return c, nil
}

func canonicalMerchant(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
