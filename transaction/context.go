package transaction

import "sync"

// Transaction types.
const (
	Local = "LOCAL"
)

// ConnectionContext is the state of the logical transaction of one session.
// It is reset on commit and rollback.
type ConnectionContext struct {
	mu                 sync.RWMutex
	beginMills         int64
	hasBeginMills      bool
	transactionStarted bool
	transactionType    string
}

// Begin marks the transaction as started.
func (c *ConnectionContext) Begin(transactionType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactionStarted = true
	c.transactionType = transactionType
}

// InTransaction reports whether a transaction is running.
func (c *ConnectionContext) InTransaction() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transactionStarted
}

// TransactionType returns the type given to Begin, if any.
func (c *ConnectionContext) TransactionType() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transactionType, c.transactionType != ""
}

// SetBeginMills records the global timestamp the transaction began at.
func (c *ConnectionContext) SetBeginMills(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginMills = ts
	c.hasBeginMills = true
}

// BeginMills returns the timestamp recorded by SetBeginMills.
func (c *ConnectionContext) BeginMills() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.beginMills, c.hasBeginMills
}

// Reset clears all state.
func (c *ConnectionContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginMills = 0
	c.hasBeginMills = false
	c.transactionStarted = false
	c.transactionType = ""
}
