package processor

import (
	"context"
	"fmt"
	"sync"
)

// Sandbox is an in-memory processor for local runs and tests. Calls repeated
// with the same idempotency key return the first result, as a real processor does.
type Sandbox struct {
	mu       sync.Mutex
	seq      int
	byKey    map[string]string
	failures map[string][]error
	calls    map[string]int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		byKey:    map[string]string{},
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

func (s *Sandbox) Name() string { return "sandbox" }

// FailNext queues errors returned by the next calls of op, in order.
func (s *Sandbox) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// Calls reports how many times op reached the sandbox, failures included.
func (s *Sandbox) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Sandbox) Capture(ctx context.Context, req CaptureRequest) (string, error) {
	if req.CustomerRef == "" || req.AmountMinor <= 0 {
		return "", Permanent(OpCapture, "invalid_request", fmt.Errorf("customer and positive amount required"))
	}
	return s.do(ctx, OpCapture, "ch", req.IdempotencyKey)
}

func (s *Sandbox) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.DestinationRef == "" || req.AmountMinor <= 0 {
		return "", Permanent(OpTransfer, "invalid_request", fmt.Errorf("destination and positive amount required"))
	}
	return s.do(ctx, OpTransfer, "tr", req.IdempotencyKey)
}

func (s *Sandbox) Refund(ctx context.Context, req RefundRequest) (string, error) {
	if req.ChargeID == "" || req.AmountMinor <= 0 {
		return "", Permanent(OpRefund, "invalid_request", fmt.Errorf("charge and positive amount required"))
	}
	return s.do(ctx, OpRefund, "re", req.IdempotencyKey)
}

func (s *Sandbox) do(ctx context.Context, op, prefix, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++
	if queued := s.failures[op]; len(queued) > 0 {
		s.failures[op] = queued[1:]
		return "", queued[0]
	}
	if key != "" {
		if id, ok := s.byKey[op+"|"+key]; ok {
			return id, nil
		}
	}
	s.seq++
	id := fmt.Sprintf("%s_sandbox_%d", prefix, s.seq)
	if key != "" {
		s.byKey[op+"|"+key] = id
	}
	return id, nil
}
