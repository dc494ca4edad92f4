package core

import "time"

// Environment Variables
const (
	EnvRedisURL    = "REDIS_URL"    // Redis connection URL for the redis store
	EnvDatabaseURL = "DATABASE_URL" // Postgres connection URL for the postgres store
)

// Scheduling Defaults
const (
	DefaultDiscoveryInterval  = 5 * time.Minute
	DefaultRefreshInterval    = 1 * time.Minute
	DefaultComplianceInterval = 15 * time.Minute
	DefaultCleanupInterval    = 30 * time.Minute
)

// Registry Heuristics
const (
	// DefaultSchemaVersion is the ORD compliance version each resource must declare
	DefaultSchemaVersion = "1.12"

	// DefaultFanInThreshold and DefaultFanOutThreshold flag critical path nodes
	// when dependents > 3 or dependencies > 5
	DefaultFanInThreshold  = 3
	DefaultFanOutThreshold = 5

	// DefaultRecencyWindow is how recently a resource must have been seen
	// to earn the recency confidence bonus
	DefaultRecencyWindow = 24 * time.Hour

	// DefaultStaleAfter is the staleness window used by cleanup
	DefaultStaleAfter = 7 * 24 * time.Hour
)

// Redis Store Defaults
const (
	// DefaultRedisNamespace prefixes every registry key
	// Format: <namespace>:resources:<id>, <namespace>:agents:<id>
	DefaultRedisNamespace = "ord"
)
