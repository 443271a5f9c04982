package querycache

import "time"

const (
	defaultNamespace     = "query"
	defaultGCTime        = 5 * time.Minute
	defaultSweep         = time.Minute
	defaultGenRetention  = 24 * time.Hour
	defaultProviderSweep = 10 * time.Minute
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
