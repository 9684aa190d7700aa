package mapping

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ohler55/ojg/oj"
)

// ErrInvalidUTF8 marks payloads that are not valid UTF-8 text.
var ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")

// ParseError reports a payload that could not be decoded as JSON. It is a
// per-message, recoverable failure: the message is dropped and processing
// continues. Topic and payload are carried for diagnostics.
type ParseError struct {
	Topic   string
	Payload []byte
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse payload on topic %q: %v (payload %q)", e.Topic, e.Err, e.Payload)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Envelope is the normalized, read-only view of one inbound broker message
// that path expressions evaluate against. It is built fresh per message and
// discarded after processing.
type Envelope struct {
	Topic     string
	Segments  []string
	Payload   any
	Timestamp time.Time
	QoS       byte

	doc map[string]any
}

// NewEnvelope decodes and parses a raw broker message. The payload must be
// UTF-8 text holding a single JSON value; an empty payload is treated as the
// JSON literal null, meaning "no structured payload". Decode and parse
// failures return a *ParseError.
func NewEnvelope(topic string, payload []byte, ts time.Time, qos byte) (*Envelope, error) {
	if !utf8.Valid(payload) {
		return nil, &ParseError{Topic: topic, Payload: payload, Err: ErrInvalidUTF8}
	}

	var parsed any
	if len(payload) > 0 {
		var err error
		parsed, err = oj.Parse(payload)
		if err != nil {
			return nil, &ParseError{Topic: topic, Payload: payload, Err: err}
		}
	}

	segments := strings.Split(topic, "/")
	segs := make([]any, len(segments))
	for i, s := range segments {
		segs[i] = s
	}

	return &Envelope{
		Topic:     topic,
		Segments:  segments,
		Payload:   parsed,
		Timestamp: ts,
		QoS:       qos,
		doc: map[string]any{
			"topic":     segs,
			"payload":   parsed,
			"timestamp": float64(ts.UnixNano()) / float64(time.Second),
			"qos":       int64(qos),
		},
	}, nil
}

// Document returns the plain-Go document addressed by path expressions:
// topic segments, parsed payload, receive timestamp in epoch seconds, and
// the delivery QoS.
func (e *Envelope) Document() any {
	return e.doc
}
