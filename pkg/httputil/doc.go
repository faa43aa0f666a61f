// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON responses, the broker's
// error body shape, and the middleware stack every listener runs.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//
// Error responses (all share the body {"error","status","timestamp","details"?}):
//
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteUnauthorized(w, "Invalid client credentials")
//	httputil.WriteNotFound(w, "OIDC provider not found for this subdomain")
//	httputil.WriteInternalError(w, r.Context(), logger, err)
//
// WriteInternalError logs the cause and responds with only a request id in
// details; internals never reach the client.
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.CORSMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)
//
// CORS is wide open on purpose: relying parties live on arbitrary origins.
//
// # Related Packages
//
//   - pkg/observability: structured logging used by the middleware
package httputil
