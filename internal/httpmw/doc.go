// Package httpmw provides HTTP middleware for the download gateway.
//
// Middleware is composed in a fixed order in httpserver.NewHandler:
// security headers, build headers, panic recovery, request ID, client IP
// extraction, CORS, rate limiting, OTEL tracing, trace response headers,
// metrics, the request logger, and finally the chi router with route
// annotation, access logging and body limits.
//
// Each middleware is an independent function that can be tested, reordered,
// or removed individually. User-supplied data (query params, user-agent,
// Authorization and other headers) is excluded from logs so tokens and PII
// never reach the log pipeline.
package httpmw
