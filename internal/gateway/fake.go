package gateway

import (
	"context"
	"fmt"
	"sync"

	"courtbook/internal/domain"
)

// Fake is an in-memory gateway used for local development and tests.
type Fake struct {
	mu       sync.Mutex
	seq      int
	payments map[string]*Payment
	refunds  []Refund

	// Err, when set, is returned by every call.
	Err error
}

func NewFake() *Fake {
	return &Fake{payments: make(map[string]*Payment)}
}

func (f *Fake) CreatePayment(_ context.Context, req CreatePaymentRequest) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if req.Amount <= 0 || req.Currency == "" {
		return nil, domain.NewError(domain.KindValidation, "amount and currency are required")
	}
	f.seq++
	p := &Payment{
		Reference: fmt.Sprintf("chrg_test_%d", f.seq),
		Status:    StatusProcessing,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Metadata:  copyMeta(req.Metadata),
	}
	f.payments[p.Reference] = p
	cp := *p
	return &cp, nil
}

func (f *Fake) GetPayment(_ context.Context, reference string) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	p, ok := f.payments[reference]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Metadata = copyMeta(p.Metadata)
	return &cp, nil
}

func (f *Fake) CreateRefund(_ context.Context, reference string, amount int64, _ map[string]string) (*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	p, ok := f.payments[reference]
	if !ok {
		return nil, ErrNotFound
	}
	if amount <= 0 || amount > p.Refundable() {
		return nil, domain.NewError(domain.KindValidation, "refund exceeds charge")
	}
	p.AmountRefunded += amount
	f.seq++
	r := Refund{Reference: fmt.Sprintf("rfnd_test_%d", f.seq), PaymentReference: reference, Amount: amount}
	f.refunds = append(f.refunds, r)
	return &r, nil
}

// Put stores or replaces a payment as the gateway's ledger entry.
func (f *Fake) Put(p Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.Metadata = copyMeta(p.Metadata)
	f.payments[p.Reference] = &p
}

func (f *Fake) SetStatus(reference string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[reference]; ok {
		p.Status = status
	}
}

func (f *Fake) Refunds() []Refund {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Refund(nil), f.refunds...)
}

// Charges returns how many payments were created.
func (f *Fake) Charges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
