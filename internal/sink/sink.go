// Package sink publishes finished NMEA sentences to their consumers.
package sink

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is returned by Publish before a successful Connect.
var ErrNotConnected = errors.New("sink: not connected")

// Sink is the interface every output backend implements.
type Sink interface {
	// Name returns a human-readable name for logs.
	Name() string
	// Connect opens the underlying transport. It may be retried.
	Connect() error
	// Close releases the transport.
	Close() error
	// Publish sends one sentence. Backends without topics ignore topic.
	Publish(topic string, payload []byte) error
}

// AircraftSink is implemented by sinks that keep per-aircraft state and
// so need the aircraft id alongside the topic, which may be shared.
type AircraftSink interface {
	PublishAircraft(id, topic string, payload []byte) error
}

// PublishAircraft sends payload through s, passing the aircraft id when s
// is an AircraftSink.
func PublishAircraft(s Sink, id, topic string, payload []byte) error {
	if as, ok := s.(AircraftSink); ok {
		return as.PublishAircraft(id, topic, payload)
	}
	return s.Publish(topic, payload)
}

// Topic expands "{id}" in template with the aircraft id. A template without
// the placeholder is shared by the whole fleet.
func Topic(template, id string) string {
	return strings.ReplaceAll(template, "{id}", id)
}

// Multi publishes to several sinks in order.
type Multi []Sink

func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Connect connects every sink and joins the failures.
func (m Multi) Connect() error {
	var errs []error
	for _, s := range m {
		if err := s.Connect(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Publish delivers payload to every sink. One failing sink does not stop
// the others.
func (m Multi) Publish(topic string, payload []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// PublishAircraft is Publish with the aircraft id passed on to every
// AircraftSink.
func (m Multi) PublishAircraft(id, topic string, payload []byte) error {
	var errs []error
	for _, s := range m {
		if err := PublishAircraft(s, id, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// line terminates a sentence with CRLF as NMEA 0183 requires on the wire.
func line(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, payload...)
	return append(out, '\r', '\n')
}
