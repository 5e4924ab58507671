package linksync

// SessionState is the orchestrator state of one sync session.
type SessionState string

const (
	StateIdle          SessionState = "IDLE"
	StateInitRequested SessionState = "INIT_REQUESTED"
	StateBatchInFlight SessionState = "BATCH_IN_FLIGHT"
	StateFinishing     SessionState = "FINISHING"
	StateDone          SessionState = "DONE"
	StateFailed        SessionState = "FAILED"
)

// SessionContext carries the state of one session through orchestrator calls.
// It also holds the de-duplication set of the current request: create one per
// inbound request or CLI invocation and drop it when the request ends.
type SessionContext struct {
	ID        string
	Force     bool
	State     SessionState
	Remaining []Batch

	// Rejections collects batch-level rejections that did not stop the session.
	Rejections []Result

	processed map[int64]struct{}
}

// NewSessionContext creates an idle session.
func NewSessionContext(id string, force bool) *SessionContext {
	return &SessionContext{
		ID:        id,
		Force:     force,
		State:     StateIdle,
		processed: make(map[int64]struct{}),
	}
}

// MarkProcessed records itemID for this request. It returns false if the item
// was already processed, in which case the caller must skip it.
func (s *SessionContext) MarkProcessed(itemID int64) bool {
	if s.processed == nil {
		s.processed = make(map[int64]struct{})
	}
	if _, ok := s.processed[itemID]; ok {
		return false
	}
	s.processed[itemID] = struct{}{}
	return true
}

// HasMore reports whether batches remain to be sent.
func (s *SessionContext) HasMore() bool {
	return len(s.Remaining) > 0
}

// popBatch removes and returns the head batch.
func (s *SessionContext) popBatch() (Batch, bool) {
	if len(s.Remaining) == 0 {
		return nil, false
	}
	head := s.Remaining[0]
	s.Remaining = s.Remaining[1:]
	return head, true
}

// BatchOutcome reports the result of one "send next batch" step.
type BatchOutcome struct {
	SentBatch   Batch
	NextBatches []Batch
	HasBatch    bool
	Result      Result
}

// BatchLength is the number of batches still to send.
func (o BatchOutcome) BatchLength() int { return len(o.NextBatches) }
