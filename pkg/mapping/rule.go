package mapping

import (
	"errors"
	"fmt"

	"github.com/illmade-knight/go-mqtt-bridge/pkg/pathexpr"
)

// RuleConfig is the declarative form of one mapping rule (a "point" in the
// configuration document): a subscription pattern plus the specs that turn
// matching messages into records. Specs are either literal strings or `$`
// path expressions; see pathexpr.Compile.
type RuleConfig struct {
	Topic       string
	Measurement string
	Fields      map[string]string
	Tags        map[string]string
	Database    string
}

// Rule is the compiled, immutable form of a RuleConfig. All expressions are
// compiled once at configuration-load time so malformed specs fail startup
// rather than surfacing per message.
type Rule struct {
	Pattern     string
	Measurement *pathexpr.Expression
	Fields      map[string]*pathexpr.Expression
	Tags        map[string]*pathexpr.Expression
	Database    string
}

// CompileRule compiles a single rule. A rule must carry a subscription topic,
// a measurement spec, and at least one field spec; a record without fields
// carries no information, so a rule that can never produce one is rejected
// up front.
func CompileRule(rc RuleConfig) (Rule, error) {
	if rc.Topic == "" {
		return Rule{}, errors.New("rule topic is required")
	}
	if rc.Measurement == "" {
		return Rule{}, errors.New("rule measurement is required")
	}
	if len(rc.Fields) == 0 {
		return Rule{}, errors.New("rule requires at least one field")
	}

	measurement, err := pathexpr.Compile(rc.Measurement)
	if err != nil {
		return Rule{}, fmt.Errorf("measurement: %w", err)
	}

	fields := make(map[string]*pathexpr.Expression, len(rc.Fields))
	for key, spec := range rc.Fields {
		expr, err := pathexpr.Compile(spec)
		if err != nil {
			return Rule{}, fmt.Errorf("field %q: %w", key, err)
		}
		fields[key] = expr
	}

	tags := make(map[string]*pathexpr.Expression, len(rc.Tags))
	for key, spec := range rc.Tags {
		expr, err := pathexpr.Compile(spec)
		if err != nil {
			return Rule{}, fmt.Errorf("tag %q: %w", key, err)
		}
		tags[key] = expr
	}

	return Rule{
		Pattern:     rc.Topic,
		Measurement: measurement,
		Fields:      fields,
		Tags:        tags,
		Database:    rc.Database,
	}, nil
}

// CompileRules compiles the full rule set, failing fast on the first
// malformed rule so startup aborts with a pointer at the offending point.
func CompileRules(rcs []RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(rcs))
	for i, rc := range rcs {
		rule, err := CompileRule(rc)
		if err != nil {
			return nil, fmt.Errorf("point %d (topic %q): %w", i, rc.Topic, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
