package types

import "time"

type Config struct {
	Environment     string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	ServerPort      uint   `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeoutSec  uint   `envconfig:"READ_TIMEOUT_SEC" default:"10"`
	WriteTimeoutSec uint   `envconfig:"WRITE_TIMEOUT_SEC" default:"15"`

	// Persistence. STORE_DRIVER=memory keeps everything in process and is
	// only meant for local runs and demos.
	StoreDriver      string        `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL      string        `envconfig:"DATABASE_URL"`
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"5s"`

	DatabaseMaxConns        int32 `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseConnectAttempts int   `envconfig:"DATABASE_CONNECT_ATTEMPTS" default:"5"`

	// Identity. Tokens are verified against the JWKS and may arrive either as a
	// bearer header or inside the encrypted session cookie.
	JWKSURL        string `envconfig:"JWKS_URL"`
	CookieName     string `envconfig:"SESSION_COOKIE_NAME" default:"session_id"`
	CookieHashKey  string `envconfig:"COOKIE_HASH_KEY"`  // 32 or 64 bytes, base64
	CookieBlockKey string `envconfig:"COOKIE_BLOCK_KEY"` // 16, 24, or 32 bytes, base64

	// Notifications
	RedisURL      string        `envconfig:"REDIS_URL"`
	NotifyChannel string        `envconfig:"NOTIFY_CHANNEL" default:"bloodlink.events"`
	NotifyTimeout time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"2s"`

	// Matching
	PartialFulfillment bool `envconfig:"MATCH_PARTIAL_FULFILLMENT" default:"false"`
	MatchBatchSize     int  `envconfig:"MATCH_BATCH_SIZE" default:"50"`

	// Donations
	MissingOrgFallback bool `envconfig:"DONATION_MISSING_ORG_FALLBACK" default:"false"`

	// Reconciliation
	ReconcileGracePeriod  time.Duration `envconfig:"RECONCILE_GRACE_PERIOD" default:"24h"`
	ReconcileTimeout      time.Duration `envconfig:"RECONCILE_TIMEOUT" default:"2m"`
	ReconcileReportBucket string        `envconfig:"RECONCILE_REPORT_BUCKET"`
}
