// Package events publishes content repository changes.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/protocol"
	"github.com/google/uuid"

	"github.com/tendant/content-odata/pkg/contentrepo"
)

// Event types emitted by the sinks.
const (
	TypeCreated = "io.content-odata.content.created"
	TypeUpdated = "io.content-odata.content.updated"
	TypeDeleted = "io.content-odata.content.deleted"
	TypeMoved   = "io.content-odata.content.moved"
)

// DefaultSource is the CloudEvents source attribute used when none is configured.
const DefaultSource = "/content-odata"

// Payload is the data carried by every event.
type Payload struct {
	ID               int       `json:"id"`
	ParentID         int       `json:"parentId"`
	Name             string    `json:"name"`
	Path             string    `json:"path"`
	Type             string    `json:"type"`
	Version          string    `json:"version"`
	ModifiedBy       int       `json:"modifiedBy"`
	ModificationDate time.Time `json:"modificationDate"`
	OldPath          string    `json:"oldPath,omitempty"`
}

func payloadOf(n *contentrepo.Node, oldPath string) Payload {
	return Payload{
		ID:               n.ID,
		ParentID:         n.ParentID,
		Name:             n.Name,
		Path:             n.Path,
		Type:             n.TypeName,
		Version:          n.Version,
		ModifiedBy:       n.ModifiedByID,
		ModificationDate: n.ModificationDate,
		OldPath:          oldPath,
	}
}

// Sender is the part of a CloudEvents client used by Sink.
type Sender interface {
	Send(ctx context.Context, event cloudevents.Event) protocol.Result
}

// Sink publishes content events as CloudEvents.
type Sink struct {
	sender  Sender
	source  string
	timeout time.Duration
}

// Option configures a Sink.
type Option func(*Sink)

// WithSource sets the CloudEvents source attribute.
func WithSource(source string) Option {
	return func(s *Sink) {
		if source != "" {
			s.source = source
		}
	}
}

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		s.timeout = d
	}
}

// NewSink creates a sink delivering through sender.
func NewSink(sender Sender, opts ...Option) (*Sink, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	s := &Sink{sender: sender, source: DefaultSource, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewHTTPSink creates a sink that POSTs events to target.
func NewHTTPSink(target string, opts ...Option) (*Sink, error) {
	if target == "" {
		return nil, errors.New("event target is required")
	}
	client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return NewSink(client, opts...)
}

func (s *Sink) send(ctx context.Context, eventType string, n *contentrepo.Node, oldPath string) error {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(s.source)
	e.SetType(eventType)
	e.SetSubject(n.Path)
	e.SetTime(time.Now().UTC())
	if err := e.SetData(cloudevents.ApplicationJSON, payloadOf(n, oldPath)); err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if res := s.sender.Send(ctx, e); !cloudevents.IsACK(res) {
		return fmt.Errorf("failed to deliver %s for %s: %w", eventType, n.Path, res)
	}
	return nil
}

func (s *Sink) ContentCreated(ctx context.Context, node *contentrepo.Node) error {
	return s.send(ctx, TypeCreated, node, "")
}

func (s *Sink) ContentUpdated(ctx context.Context, node *contentrepo.Node) error {
	return s.send(ctx, TypeUpdated, node, "")
}

func (s *Sink) ContentDeleted(ctx context.Context, node *contentrepo.Node) error {
	return s.send(ctx, TypeDeleted, node, "")
}

func (s *Sink) ContentMoved(ctx context.Context, node *contentrepo.Node, oldPath string) error {
	return s.send(ctx, TypeMoved, node, oldPath)
}

// LogSink writes content events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink; a nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) log(ctx context.Context, eventType string, n *contentrepo.Node, attrs ...any) {
	attrs = append([]any{"event", eventType, "id", n.ID, "path", n.Path, "type", n.TypeName}, attrs...)
	l.logger.InfoContext(ctx, "content event", attrs...)
}

func (l *LogSink) ContentCreated(ctx context.Context, node *contentrepo.Node) error {
	l.log(ctx, TypeCreated, node)
	return nil
}

func (l *LogSink) ContentUpdated(ctx context.Context, node *contentrepo.Node) error {
	l.log(ctx, TypeUpdated, node, "version", node.Version)
	return nil
}

func (l *LogSink) ContentDeleted(ctx context.Context, node *contentrepo.Node) error {
	l.log(ctx, TypeDeleted, node)
	return nil
}

func (l *LogSink) ContentMoved(ctx context.Context, node *contentrepo.Node, oldPath string) error {
	l.log(ctx, TypeMoved, node, "old_path", oldPath)
	return nil
}

// Multi fans events out to several sinks. All sinks are called; the
// errors are joined.
type Multi []contentrepo.EventSink

func (m Multi) each(fn func(contentrepo.EventSink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) ContentCreated(ctx context.Context, node *contentrepo.Node) error {
	return m.each(func(s contentrepo.EventSink) error { return s.ContentCreated(ctx, node) })
}

func (m Multi) ContentUpdated(ctx context.Context, node *contentrepo.Node) error {
	return m.each(func(s contentrepo.EventSink) error { return s.ContentUpdated(ctx, node) })
}

func (m Multi) ContentDeleted(ctx context.Context, node *contentrepo.Node) error {
	return m.each(func(s contentrepo.EventSink) error { return s.ContentDeleted(ctx, node) })
}

func (m Multi) ContentMoved(ctx context.Context, node *contentrepo.Node, oldPath string) error {
	return m.each(func(s contentrepo.EventSink) error { return s.ContentMoved(ctx, node, oldPath) })
}
