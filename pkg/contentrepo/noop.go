package contentrepo

import "context"

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ContentCreated(ctx context.Context, node *Node) error { return nil }

func (n *NoopEventSink) ContentUpdated(ctx context.Context, node *Node) error { return nil }

func (n *NoopEventSink) ContentDeleted(ctx context.Context, node *Node) error { return nil }

func (n *NoopEventSink) ContentMoved(ctx context.Context, node *Node, oldPath string) error {
	return nil
}
