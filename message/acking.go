package message

import "sync"

// Acking settles a delivery exactly once.
// The first Ack or Nack wins; later calls report whether they agree with
// the settled outcome. Acking is safe for concurrent use.
type Acking struct {
	mu      sync.Mutex
	ackFn   func()
	nackFn  func(error)
	settled bool
	nackErr error
}

// NewAcking creates an Acking. Returns nil if either callback is nil.
//
// The callbacks run while the acking is locked and must not call back
// into the same message.
func NewAcking(ack func(), nack func(error)) *Acking {
	if ack == nil || nack == nil {
		return nil
	}
	return &Acking{ackFn: ack, nackFn: nack}
}

func (a *Acking) ack() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return a.nackErr == nil
	}
	a.settled = true
	a.ackFn()
	return true
}

func (a *Acking) nack(err error) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return a.nackErr != nil
	}
	if err == nil {
		err = ErrNacked
	}
	a.settled = true
	a.nackErr = err
	a.nackFn(err)
	return true
}

// Settled reports whether Ack or Nack has been called.
func (a *Acking) Settled() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settled
}

// Err returns the nack error, or nil if pending or acked.
func (a *Acking) Err() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nackErr
}
