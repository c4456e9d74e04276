package callops

import (
	"errors"
	"sync"

	"github.com/origen-labs/voicebridge/internal/config"
)

// Kind identifies the deferred call-control action.
type Kind string

const (
	KindHangup   Kind = "hangup"
	KindTransfer Kind = "transfer"
)

var (
	ErrHangupPending     = errors.New("hangup already pending")
	ErrTransferPending   = errors.New("transfer already pending")
	ErrDuplicateTransfer = errors.New("transfer to this department already pending")
)

// PendingOperation is the single deferred action recorded for a call. It is
// executed only after the model's final utterance has been relayed.
type PendingOperation struct {
	Kind        Kind
	Department  string
	Destination string
	SIPHeaders  []config.SIPHeader
	Reason      string
	Executed    bool
}

// Store keeps at most one pending operation per call, with all
// read-modify-write sequences serialized under one mutex.
type Store struct {
	mu  sync.Mutex
	ops map[string]*PendingOperation
}

func NewStore() *Store {
	return &Store{ops: make(map[string]*PendingOperation)}
}

// Get returns a copy of the pending operation for the call, if any.
func (s *Store) Get(callControlID string) (PendingOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[callControlID]
	if !ok {
		return PendingOperation{}, false
	}
	return *op, true
}

// HasPending reports whether the call has an unexecuted deferred action.
func (s *Store) HasPending(callControlID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[callControlID]
	return ok && !op.Executed
}

// RequestHangup records a deferred hangup. Rejected while any operation is
// already pending: a transfer is never superseded by a hangup, and a second
// hangup request is an idempotent rejection.
func (s *Store) RequestHangup(callControlID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op, ok := s.ops[callControlID]; ok {
		if op.Kind == KindTransfer {
			return ErrTransferPending
		}
		return ErrHangupPending
	}
	s.ops[callControlID] = &PendingOperation{Kind: KindHangup, Reason: reason}
	return nil
}

// RequestTransfer records a deferred transfer. Rejected while a hangup is
// pending; a transfer to the same department is rejected without mutation; a
// transfer to a different department overwrites the previous one (the newer
// intent wins).
func (s *Store) RequestTransfer(callControlID string, op PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.ops[callControlID]; ok {
		if existing.Kind == KindHangup {
			return ErrHangupPending
		}
		if existing.Department == op.Department {
			return ErrDuplicateTransfer
		}
	}
	op.Kind = KindTransfer
	op.Executed = false
	s.ops[callControlID] = &op
	return nil
}

// BeginExecute atomically claims the pending operation for execution. The
// executed flag is set before any side effect so a re-entrant call can never
// run the action twice. Returns false when there is nothing to execute.
func (s *Store) BeginExecute(callControlID string) (PendingOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[callControlID]
	if !ok || op.Executed {
		return PendingOperation{}, false
	}
	op.Executed = true
	return *op, true
}

// Delete removes the record once execution has completed.
func (s *Store) Delete(callControlID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, callControlID)
}
