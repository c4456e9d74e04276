package callops

import (
	"context"
	"log"

	"github.com/origen-labs/voicebridge/internal/observability"
	"github.com/origen-labs/voicebridge/internal/telnyx"
)

// CallController is the slice of the call-control API execution needs.
type CallController interface {
	Transfer(ctx context.Context, callControlID string, req telnyx.TransferRequest) error
	Hangup(ctx context.Context, callControlID string) error
}

const (
	transferTimeoutSecs   = 30
	transferTimeLimitSecs = 3600
)

// Executor runs the deferred call-control action for a call.
type Executor struct {
	store   *Store
	control CallController
	metrics *observability.Metrics
}

func NewExecutor(store *Store, control CallController, metrics *observability.Metrics) *Executor {
	return &Executor{store: store, control: control, metrics: metrics}
}

// ExecutePending performs the recorded operation for the call, exactly once.
// A transfer rejected by the call-control API falls back to a hangup, and
// any execution error triggers a best-effort hangup. The record is deleted
// once execution completes, successful or not.
func (e *Executor) ExecutePending(ctx context.Context, callControlID string) {
	op, ok := e.store.BeginExecute(callControlID)
	if !ok {
		log.Printf("callops: nothing to execute for %s", callControlID)
		return
	}
	defer e.store.Delete(callControlID)

	// Transfer wins if a record could ever carry both intents. The store's
	// mutual-exclusion rules should make that impossible.
	if op.Kind == KindTransfer {
		log.Printf("callops: executing transfer for %s to %s", callControlID, op.Department)
		err := e.control.Transfer(ctx, callControlID, telnyx.TransferRequest{
			To:            op.Destination,
			TimeoutSecs:   transferTimeoutSecs,
			TimeLimitSecs: transferTimeLimitSecs,
			SIPHeaders:    op.SIPHeaders,
		})
		if err == nil {
			e.observe(KindTransfer, "executed")
			return
		}
		log.Printf("callops: transfer failed for %s, hanging up instead: %v", callControlID, err)
		e.observe(KindTransfer, "fallback_hangup")
		if err := e.control.Hangup(ctx, callControlID); err != nil {
			log.Printf("callops: fallback hangup failed for %s: %v", callControlID, err)
		}
		return
	}

	log.Printf("callops: executing hangup for %s", callControlID)
	if err := e.control.Hangup(ctx, callControlID); err != nil {
		log.Printf("callops: hangup failed for %s: %v", callControlID, err)
		e.observe(KindHangup, "failed")
		return
	}
	e.observe(KindHangup, "executed")
}

func (e *Executor) observe(kind Kind, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.PendingOperations.WithLabelValues(string(kind), outcome).Inc()
}
