package executor

// ExecutionGroup is a batch of storage resources bound to a single physical
// connection. Members run sequentially, in order.
type ExecutionGroup[T any] struct {
	Mode    ConnectionMode
	Members []T
}
