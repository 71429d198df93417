// Package behavior implements the queue engine's middleware pipeline:
// small, composable capabilities that attach to an Engine's event
// hooks and return a disposer, rather than the engine growing bespoke
// hooks per concern.
package behavior

import (
	"github.com/oriys/workq/internal/eventhub"
	"github.com/oriys/workq/internal/queue"
)

// Behavior attaches cross-cutting functionality (metrics, tracing,
// deduplication) to an Engine's lifecycle events.
type Behavior[T any] interface {
	// Attach registers the behavior's handlers on engine and returns a
	// Disposer that detaches all of them.
	Attach(engine *queue.Engine[T]) eventhub.Disposer
}

// Chain attaches every behavior in order and returns a single Disposer
// that detaches them in reverse order.
func Chain[T any](engine *queue.Engine[T], behaviors ...Behavior[T]) eventhub.Disposer {
	disposers := make([]eventhub.Disposer, 0, len(behaviors))
	for _, b := range behaviors {
		disposers = append(disposers, b.Attach(engine))
	}
	return func() {
		for i := len(disposers) - 1; i >= 0; i-- {
			disposers[i]()
		}
	}
}
