// Package mapping implements the message-to-record engine: it selects the
// rules whose subscription patterns match an inbound topic, evaluates their
// path expressions against the message envelope, and produces storable
// records under the configured completeness policy.
package mapping

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mqtt-bridge/pkg/topicmatch"
)

// Mapper applies an immutable, startup-loaded rule set to inbound messages.
// Map is a pure function of (rules, message) apart from the record timestamp,
// so a Mapper is safe for concurrent use.
type Mapper struct {
	rules  []Rule
	logger zerolog.Logger
	now    func() time.Time
}

// NewMapper creates a Mapper over a compiled rule set.
func NewMapper(rules []Rule, logger zerolog.Logger) *Mapper {
	return &Mapper{
		rules:  rules,
		logger: logger.With().Str("component", "Mapper").Logger(),
		now:    time.Now,
	}
}

// Patterns returns the distinct subscription patterns of the rule set, in
// rule-declaration order. The bridge subscribes to each of these.
func (m *Mapper) Patterns() []string {
	seen := make(map[string]struct{}, len(m.rules))
	patterns := make([]string, 0, len(m.rules))
	for _, r := range m.rules {
		if _, ok := seen[r.Pattern]; ok {
			continue
		}
		seen[r.Pattern] = struct{}{}
		patterns = append(patterns, r.Pattern)
	}
	return patterns
}

// Map produces zero or more records for one inbound message, one per rule
// whose pattern matches the topic and whose extraction succeeds. The payload
// is parsed lazily once the first rule matches, and the resulting envelope is
// shared by all matching rules. A *ParseError means the message must be
// dropped; no records are produced for any rule in that case.
func (m *Mapper) Map(topic string, payload []byte, ts time.Time, qos byte) ([]Record, error) {
	var env *Envelope
	var records []Record

	for i := range m.rules {
		rule := &m.rules[i]
		if !topicmatch.Matches(rule.Pattern, topic) {
			continue
		}
		if env == nil {
			var err error
			env, err = NewEnvelope(topic, payload, ts, qos)
			if err != nil {
				return nil, err
			}
		}
		if rec, ok := m.apply(rule, env); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// apply runs one rule against a shared envelope. Missing field or tag values
// are omitted; a record is only produced when the measurement resolves and at
// least one field was extracted.
func (m *Mapper) apply(rule *Rule, env *Envelope) (Record, bool) {
	doc := env.Document()

	measurement, ok := rule.Measurement.Evaluate(doc)
	if !ok {
		m.logger.Warn().
			Str("topic", env.Topic).
			Str("pattern", rule.Pattern).
			Msg("Measurement did not resolve, skipping rule.")
		return Record{}, false
	}

	fields := make(map[string]any, len(rule.Fields))
	for key, expr := range rule.Fields {
		if v, ok := expr.Evaluate(doc); ok {
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		m.logger.Warn().
			Str("topic", env.Topic).
			Str("pattern", rule.Pattern).
			Msg("No fields extracted, skipping rule.")
		return Record{}, false
	}
	if len(fields) != len(rule.Fields) {
		m.logger.Warn().
			Str("topic", env.Topic).
			Str("pattern", rule.Pattern).
			Int("extracted", len(fields)).
			Int("configured", len(rule.Fields)).
			Msg("Partial field extraction.")
	}

	tags := make(map[string]string, len(rule.Tags))
	for key, expr := range rule.Tags {
		if v, ok := expr.Evaluate(doc); ok {
			tags[key] = stringify(v)
		}
	}
	if len(tags) != len(rule.Tags) {
		m.logger.Warn().
			Str("topic", env.Topic).
			Str("pattern", rule.Pattern).
			Int("extracted", len(tags)).
			Int("configured", len(rule.Tags)).
			Msg("Partial tag extraction.")
	}

	return Record{
		Measurement: stringify(measurement),
		Time:        m.now().UTC().Truncate(time.Second),
		Tags:        tags,
		Fields:      fields,
		Database:    rule.Database,
	}, true
}

// stringify renders an extracted value for use as a measurement name or tag
// value, which are strings by contract even when the path matched a number.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
