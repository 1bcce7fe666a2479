package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lucid-rpc/message"
)

var (
	// ErrTimeout is returned by Await when the wait budget elapses first. It only
	// matches client-side expiry, never a TIMEOUT response sent by the server, but
	// it unwraps to a TIMEOUT *message.Error so message.CodeOf reports TIMEOUT.
	ErrTimeout error = timeoutError{}

	// ErrConnectionLost resolves every outstanding call when the connection dies.
	ErrConnectionLost = errors.New("transport: connection lost")

	// ErrUnknownID is returned by Await for an id that is not outstanding.
	ErrUnknownID = errors.New("transport: unknown request id")

	// ErrClosed is the cause recorded when the transport is closed locally.
	ErrClosed = errors.New("transport: closed")

	errDuplicateID = errors.New("transport: id already outstanding")
)

var errTimeoutCode = message.NewError(message.CodeTimeout, "request timed out", nil)

type timeoutError struct{}

func (timeoutError) Error() string { return errTimeoutCode.Error() }
func (timeoutError) Unwrap() error { return errTimeoutCode }

type callState uint8

const (
	stateSubmitted callState = iota
	stateCompleted
	stateTimedOut
	stateConnectionLost
)

// pendingCall is one outstanding request. Fields after done are guarded by the
// table mutex; done is closed exactly once, on the transition out of submitted.
type pendingCall struct {
	id       message.ID
	method   string
	deadline time.Time // zero when the request carried no timeout_ms

	done        chan struct{}
	state       callState
	resp        *message.Response
	err         error
	completedAt time.Time
}

// completedRetention bounds how long a completed call without a deadline waits
// to be collected by Wait.
const completedRetention = time.Minute

// sweepInterval is the minimum gap between two scans for uncollected calls.
const sweepInterval = time.Second

// PendingTable correlates outstanding request ids with their eventual outcome.
// The submitting caller, the receive loop and timeout expiry all go through the
// same mutex, so each record leaves the submitted state exactly once.
type PendingTable struct {
	mu        sync.Mutex
	calls     map[message.ID]*pendingCall
	closeErr  error // set once FailAll has run
	completed int   // records completed but not yet collected by Wait
	nextSweep time.Time
}

// NewPendingTable returns an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{calls: make(map[message.ID]*pendingCall)}
}

// Add registers id as submitted. timeout is the request's own budget (0 = none).
// After FailAll every Add fails with the connection-loss error.
func (t *PendingTable) Add(id message.ID, method string, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closeErr != nil {
		return t.closeErr
	}
	t.sweep(time.Now())
	if _, exists := t.calls[id]; exists {
		return fmt.Errorf("%w: %s", errDuplicateID, id)
	}

	call := &pendingCall{id: id, method: method, done: make(chan struct{})}
	if timeout > 0 {
		call.deadline = time.Now().Add(timeout)
	}
	t.calls[id] = call
	return nil
}

// Remove forgets id without resolving it. Used when the request never made it
// onto the wire.
func (t *PendingTable) Remove(id message.ID) {
	t.mu.Lock()
	if call, ok := t.calls[id]; ok && call.state == stateCompleted {
		t.completed--
	}
	delete(t.calls, id)
	t.mu.Unlock()
}

// Resolve completes the call matching resp.ID. It returns false when nobody is
// waiting for that id any more (unknown, timed out, or already resolved).
func (t *PendingTable) Resolve(resp *message.Response) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[resp.ID]
	if !ok || call.state != stateSubmitted {
		return false
	}
	call.resp = resp
	t.complete(call)
	return true
}

// Fail completes the call for id with err, e.g. when its response was malformed.
func (t *PendingTable) Fail(id message.ID, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[id]
	if !ok || call.state != stateSubmitted {
		return false
	}
	call.err = err
	t.complete(call)
	return true
}

// FailAll moves every submitted call to connection-lost with err and closes the
// table for new submissions. Released records are dropped at once: waiters
// already hold them, and a later Wait for their id gets err. It returns the
// number of calls released.
func (t *PendingTable) FailAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closeErr != nil {
		return 0
	}
	t.closeErr = err

	n := 0
	for id, call := range t.calls {
		if call.state != stateSubmitted {
			// completed before the loss; keep it so Wait can still collect it
			continue
		}
		call.state = stateConnectionLost
		call.err = err
		close(call.done)
		delete(t.calls, id)
		n++
	}
	return n
}

// complete moves call to completed. Caller holds t.mu.
func (t *PendingTable) complete(call *pendingCall) {
	call.state = stateCompleted
	call.completedAt = time.Now()
	t.completed++
	close(call.done)
}

// sweep drops completed records nobody collected: past their deadline, or older
// than completedRetention when they had none. Caller holds t.mu.
func (t *PendingTable) sweep(now time.Time) {
	if t.completed == 0 || now.Before(t.nextSweep) {
		return
	}
	t.nextSweep = now.Add(sweepInterval)
	for id, call := range t.calls {
		if call.state != stateCompleted {
			continue
		}
		expiry := call.deadline
		if expiry.IsZero() {
			expiry = call.completedAt.Add(completedRetention)
		}
		if now.After(expiry) {
			delete(t.calls, id)
			t.completed--
		}
	}
}

// Len returns the number of records still in the table.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Wait blocks until id is resolved, the timeout elapses, or ctx is done.
// timeout == 0 falls back to the deadline recorded at Add time.
// The record is removed from the table when Wait returns.
func (t *PendingTable) Wait(ctx context.Context, id message.ID, timeout time.Duration) (*message.Response, error) {
	t.mu.Lock()
	call, ok := t.calls[id]
	if !ok {
		closeErr := t.closeErr
		t.mu.Unlock()
		if closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	t.mu.Unlock()

	var expire <-chan time.Time
	budget := timeout
	if budget <= 0 && !call.deadline.IsZero() {
		budget = time.Until(call.deadline)
		if budget <= 0 {
			budget = time.Nanosecond
		}
	}
	if budget > 0 {
		timer := time.NewTimer(budget)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case <-call.done:
		return t.take(call)
	case <-expire:
		return t.abandon(call, fmt.Errorf("%w: %s (id %s) after %s", ErrTimeout, call.method, id, budget))
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s (id %s): %v", ErrTimeout, call.method, id, err)
		}
		return t.abandon(call, err)
	}
}

// take returns the outcome of a resolved call and drops its record.
func (t *PendingTable) take(call *pendingCall) (*message.Response, error) {
	t.mu.Lock()
	if t.calls[call.id] == call {
		delete(t.calls, call.id)
		if call.state == stateCompleted {
			t.completed--
		}
	}
	resp, err := call.resp, call.err
	t.mu.Unlock()
	return resp, err
}

// abandon marks call timed out unless it resolved in the meantime, in which case
// the resolution wins.
func (t *PendingTable) abandon(call *pendingCall, err error) (*message.Response, error) {
	t.mu.Lock()
	if call.state != stateSubmitted {
		t.mu.Unlock()
		return t.take(call)
	}
	call.state = stateTimedOut
	call.err = err
	close(call.done)
	if t.calls[call.id] == call {
		delete(t.calls, call.id)
	}
	t.mu.Unlock()
	return nil, err
}
