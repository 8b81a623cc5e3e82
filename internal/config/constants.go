package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const RetentionJobInterval = 1 * time.Hour

// Interpreter safety limit: a single occurrence never executes more
// nodes than this, whatever the graph looks like.
const MaxNodesPerRun = 200

// Delay actions are clamped to keep one occurrence from parking a
// worker for minutes.
const MaxDelay = 60 * time.Second

// Default rate limiting
const DefaultRateLimitPerMin = 60

// Occurrence dedupe window: repeated webhook deliveries of the same
// message id inside this window are dropped.
const DedupeTTL = 10 * time.Minute

// Call-id to caller-phone mapping lives this long, long enough to
// cover call-ended events arriving after the call-received one.
const CallPeerTTL = 1 * time.Hour
