package memory

import "time"

// now is a package-level indirection so tests can force deterministic
// timestamps.
var now = func() time.Time { return time.Now().UTC() }
