// Package throttle counts failed attempts per key within a time window so
// callers can refuse further attempts once a limit is reached.
//
// The keyring uses it to bound guessing of the current password on
// PUT /api/password. A Limiter holds at most a fixed number of keys; when
// full, the key with the oldest window is evicted. A background goroutine
// drops expired windows until Close is called.
package throttle
