// Package dataset implements the reference-data registry consulted by the
// rule evaluator.
//
// Every dataset kind is served by a Handle: an atomically swappable pointer to
// an immutable snapshot plus a bounded queue of update commands. Readers call
// Get and receive the currently published snapshot without taking any lock;
// a captured snapshot stays valid for as long as the reader holds it. Exactly
// one consumer per kind (Handle.Run) drains the queue, folds each batch into a
// new snapshot with a pure apply function and publishes it.
//
// Snapshot types in this package are read-only once published. Builders such
// as NewIPSet or NewCalendar return values that are safe to publish directly
// through a Replace command or Handle.Publish.
package dataset
