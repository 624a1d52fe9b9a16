package core

import (
	"context"

	"github.com/printlot-io/printlot/internal/core/model"
)

// EventSink receives scraping session events. Implemented by the websocket
// bridge in the UI layer and by the MQTT notifier; the orchestrator fans out
// to all configured sinks from a single writer goroutine, so implementations
// need not be safe for concurrent Publish calls.
type EventSink interface {
	Publish(ctx context.Context, event model.Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, event model.Event)

func (f EventSinkFunc) Publish(ctx context.Context, event model.Event) {
	f(ctx, event)
}

// ArchiveProvider mirrors finished order run directories to object storage.
type ArchiveProvider interface {
	// UploadRunDir uploads every file under localDir beneath the given
	// object key prefix.
	UploadRunDir(ctx context.Context, keyPrefix, localDir string) error

	// CheckBucket ensures the target bucket exists.
	CheckBucket(ctx context.Context) error
}
