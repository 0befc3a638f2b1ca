// Package memento implements the Memento Filter: an approximate-membership
// data structure over 64-bit integer keys that answers both point and range
// membership queries with no false negatives and a tunable false positive
// rate.
//
// A key splits into a high-order prefix and a low-order memento (the
// range-query coordinate). The hash layer maps a prefix to a home slot and a
// fingerprint. For every distinct prefix ever inserted, the filter stores
// the fingerprint plus the sorted list of mementos seen under that prefix,
// packed into a run of slots anchored at the prefix's home slot.
//
// # Basic usage
//
//	f, err := memento.New(memento.Options{
//	    NSlots:          1024,
//	    FingerprintBits: 10,
//	    MementoBits:     5,
//	    HashMode:        memento.HashNone,
//	    Seed:            12345,
//	})
//	if err != nil {
//	    // handle invalid configuration
//	}
//
//	_, err = f.InsertSingle(prefix, m, memento.NoLock)
//	result, err := f.PointQuery(prefix, m, memento.NoLock)
//
// # Concurrency
//
// Filters are single-threaded by default. Concurrent callers select one of
// [NoLock], [WaitForLock], or [TryOnce] per call; mutations latch the range
// of blocks their shift may touch, acquired in ascending block order.
//
// # Persistence
//
// memento is not a durable database. Filters may be persisted via [Open]
// and [Filter.Save], but on a corrupt or version-mismatched file the caller
// is expected to rebuild from source data, not recover in place.
//
// # Error handling
//
// Errors fall into the categories documented on [Code]: capacity
// ([ErrNoSpace]), contention ([ErrCouldntLock]), absence ([ErrDoesntExist]),
// invalid usage ([ErrInvalid]), and internal invariant violations, which
// panic rather than return an error since they indicate a bug in this
// package rather than a caller mistake.
package memento
