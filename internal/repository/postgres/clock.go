package postgres

import "time"

// nowFn is overridden in tests that need a deterministic clock.
var nowFn = func() time.Time { return time.Now().UTC() }

// asTime accepts whatever concrete type the pgx driver chose to
// represent timestamptz as (normally time.Time) without importing the
// driver's internal type.
func asTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}
