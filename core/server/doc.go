// Package server holds the HTTP server configuration.
//
// The main application entry point handles the server startup; this package
// only defines the configuration structure embedded by core/config: the HTTP
// port, the API key guarding the operational endpoints, and read timeouts.
package server
