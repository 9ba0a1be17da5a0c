// Package logsink persists request log entries. Sinks can be combined with
// Multi.
package logsink

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/sourcegraph/conc/pool"
)

type Sink interface {
	Append(ctx context.Context, entry domain.LogEntry) error
}

type named struct {
	name string
	sink Sink
}

// Multi fans an entry out to every sink. All branches run to completion and
// every failure is reported; one failing sink never cancels the others.
type Multi struct {
	sinks []named
}

func NewMulti() *Multi {
	return &Multi{}
}

// Add registers sink under name. Nil sinks are ignored.
func (m *Multi) Add(name string, sink Sink) *Multi {
	if sink != nil {
		m.sinks = append(m.sinks, named{name: name, sink: sink})
	}
	return m
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Append(ctx context.Context, entry domain.LogEntry) error {
	p := pool.New().WithErrors()
	for _, s := range m.sinks {
		p.Go(func() error {
			if err := s.sink.Append(ctx, entry); err != nil {
				return &domain.LoggingError{Sink: s.name, Err: err}
			}
			return nil
		})
	}
	return p.Wait()
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Append(context.Context, domain.LogEntry) error { return nil }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
