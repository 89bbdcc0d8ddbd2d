package delivery

import "sync"

// Result is the terminal outcome of one asynchronous submission. When the
// transport is able to hand back the original record, Key and Payload carry
// its bytes; a nil Key or Payload means the record was lost in the failure
// signal and cannot be resubmitted.
type Result struct {
	Err     error
	Key     []byte
	Payload []byte
}

// Pending is the handle for one in-flight submission. A transport resolves
// it exactly once; extra resolutions are ignored.
type Pending struct {
	size int

	res  Result
	done chan struct{}
	once sync.Once
}

// NewPending creates a handle for a submission of the given payload size.
func NewPending(size int) *Pending {
	return &Pending{
		size: size,
		done: make(chan struct{}),
	}
}

// Resolve completes the handle with the submission outcome.
func (p *Pending) Resolve(res Result) {
	p.once.Do(func() {
		p.res = res
		close(p.done)
	})
}

// Size returns the submitted payload length in bytes.
func (p *Pending) Size() int {
	return p.size
}

// Wait blocks until the handle is resolved and returns the outcome.
func (p *Pending) Wait() Result {
	<-p.done
	return p.res
}
