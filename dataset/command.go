package dataset

import "time"

// CommandOp is the kind of update a Command carries
type CommandOp uint8

const (
	// OpAdd inserts or overwrites one entry
	OpAdd CommandOp = iota + 1
	// OpRemove deletes the entry identified by the key part of Entry
	OpRemove
	// OpReplace swaps in Snapshot wholesale
	OpReplace
)

// String returns the op name
func (op CommandOp) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpReplace:
		return "replace"
	}
	return "unknown"
}

// Command is one update for a dataset of snapshot type T and entry type E.
// For OpRemove only the key fields of Entry are read.
type Command[T any, E any] struct {
	Op       CommandOp
	Entry    E
	Snapshot *T
}

// Add builds an insert command
func Add[T any, E any](entry E) Command[T, E] {
	return Command[T, E]{Op: OpAdd, Entry: entry}
}

// Remove builds a delete command
func Remove[T any, E any](key E) Command[T, E] {
	return Command[T, E]{Op: OpRemove, Entry: key}
}

// Replace builds a wholesale replacement command
func Replace[T any, E any](snapshot *T) Command[T, E] {
	return Command[T, E]{Op: OpReplace, Snapshot: snapshot}
}

// ApplyFunc folds a batch of commands, in order, into a new snapshot. It must
// not modify old: readers may still hold it.
type ApplyFunc[T any, E any] func(old *T, batch []Command[T, E]) *T

// Policy selects the enqueue behavior of a handle's command queue
type Policy struct {
	// Blocking waits up to Timeout for queue space; otherwise enqueue is
	// non-blocking and drops on full.
	Blocking bool
	Timeout  time.Duration
}

// Lossy is the drop-on-full policy used for best-effort feeds
var Lossy = Policy{}

// BlockingPolicy waits up to timeout for space. Use it for datasets where a
// lost update is a correctness problem, such as the rule catalog.
func BlockingPolicy(timeout time.Duration) Policy {
	return Policy{Blocking: true, Timeout: timeout}
}

// String renders the policy for logs
func (p Policy) String() string {
	if p.Blocking {
		return "blocking(" + p.Timeout.String() + ")"
	}
	return "lossy"
}
