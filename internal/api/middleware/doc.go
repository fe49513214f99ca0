// Package middleware provides HTTP middleware for the preview API.
//
// CORS:
//   - AllowOrigins ["*"] (or empty) allows every origin without credentials
//   - An explicit origin list also allows credentials
//   - ETag and the trace headers are exposed to browsers
//
// Rate Limiting:
//   - One token bucket per client IP, or one shared bucket (GlobalRateLimit)
//   - Clients idle for IdleTTL are forgotten
//   - Rejections answer 429 with a Retry-After header
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.RateLimitConfig{
//	    RequestsPerSecond: 50,
//	    Burst:             100,
//	}))
package middleware
