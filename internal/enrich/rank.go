package enrich

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

//go:embed rank_rules.yaml
var defaultRankRules []byte

type rankRule struct {
	Bucket   string   `yaml:"bucket"`
	Patterns []string `yaml:"patterns"`
}

type compiledRule struct {
	bucket   catalog.RankBucket
	patterns []*regexp.Regexp
}

// RankTable maps posting titles to rank buckets with an ordered rule
// list. Rules are tried in declaration order and the first match wins.
type RankTable struct {
	rules []compiledRule
}

// NewRankTable compiles the built-in rank mapping.
func NewRankTable() (*RankTable, error) {
	return ParseRankTable(defaultRankRules)
}

// ParseRankTable compiles a rank mapping from YAML.
func ParseRankTable(raw []byte) (*RankTable, error) {
	var rules []rankRule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse rank rules: %w", err)
	}

	table := &RankTable{}
	for _, rule := range rules {
		bucket := catalog.RankBucket(rule.Bucket)
		switch bucket {
		case catalog.RankProfessor, catalog.RankAssociateProfessor, catalog.RankAssistantProfessor,
			catalog.RankResearchFellow, catalog.RankPostdoc:
		default:
			return nil, fmt.Errorf("rank rules: unknown bucket %q", rule.Bucket)
		}

		compiled := compiledRule{bucket: bucket}
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile(`(?i)\b(?:` + pattern + `)`)
			if err != nil {
				return nil, fmt.Errorf("rank rules: pattern %q: %w", pattern, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		table.rules = append(table.rules, compiled)
	}
	return table, nil
}

// Classify maps a title to a rank bucket. The second return is false
// when no rule matched and the classification capability should decide.
func (t *RankTable) Classify(title string) (catalog.RankBucket, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return catalog.RankOther, false
	}
	for _, rule := range t.rules {
		for _, re := range rule.patterns {
			if re.MatchString(title) {
				return rule.bucket, true
			}
		}
	}
	return catalog.RankOther, false
}
