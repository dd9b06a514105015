package marketdata

import (
	"context"
	"sync"
)

// Mock is a scriptable Source for tests.
type Mock struct {
	mu     sync.Mutex
	quotes map[string]*Quote
	macro  *Quote
	err    error
}

func NewMock() *Mock {
	return &Mock{quotes: map[string]*Quote{}}
}

// SetQuote scripts the next quote for a ticker.
func (m *Mock) SetQuote(ticker string, q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Ticker = ticker
	m.quotes[ticker] = &q
}

// SetMacro scripts the macro index quote.
func (m *Mock) SetMacro(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.macro = &q
}

// SetError makes every call fail until cleared with nil.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Mock) GetQuote(_ context.Context, ticker string) (*Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	q, ok := m.quotes[ticker]
	if !ok {
		return nil, ErrDataUnavailable
	}
	cp := *q
	return &cp, nil
}

func (m *Mock) GetMacroQuote(_ context.Context) (*Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.macro == nil {
		return nil, ErrDataUnavailable
	}
	cp := *m.macro
	return &cp, nil
}
