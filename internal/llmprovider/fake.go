package llmprovider

import (
	"context"
	"sync"
)

// Fake is a scripted Provider: each call pops the next queued Response.
// Used in place of a real model for runtime and agentwrap tests.
type Fake struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	calls     []Request
}

// NewFake builds a Fake that returns responses in order, one per call.
func NewFake(responses ...Response) *Fake {
	return &Fake{responses: responses}
}

func (f *Fake) Generate(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return Response{}, err
		}
	}
	if len(f.responses) == 0 {
		return Response{Content: "Done.", StopReason: "stop"}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

// QueueError arranges for the next Generate call to fail with err.
func (f *Fake) QueueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *Fake) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}
