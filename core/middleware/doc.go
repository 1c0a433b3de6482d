// Package middleware contains HTTP middleware for the Fiber application.
//
// It provides cross-cutting concerns that sit between the request and the handler,
// each in its own subpackage:
//
//   - auth: API key validation (X-API-Key) protecting the operational endpoints.
//   - rayid: Generates a unique Request ID (RayID) for every incoming request,
//     injecting it into the context and response headers for log correlation.
//
// Both are registered globally in the server startup, rayid first so every
// subsequent log line carries the id.
package middleware
