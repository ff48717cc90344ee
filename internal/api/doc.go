// Package api contains the HTTP handlers, middleware, and request/response
// models for the generation queue service. Handlers translate between the
// wire format and the coordinator/ingestor layers and never touch storage
// directly.
package api
