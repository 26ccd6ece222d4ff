package config

import "time"

const (
	// Database pool sizing
	DBMaxConns = 20
	DBMinConns = 5

	// HTTP server timeouts
	ReadTimeout     = 10 * time.Second
	WriteTimeout    = 15 * time.Second
	IdleTimeout     = 60 * time.Second
	ShutdownTimeout = 15 * time.Second

	// Order placement limits
	MaxOrderLines = 100

	// Low-stock event publishing
	PublishTimeout = 5 * time.Second
)
