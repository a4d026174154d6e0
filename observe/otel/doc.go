// Package otel is the seam for an OpenTelemetry observer of the scope library.
// It provides only Nop, a scope.Observer that records and emits nothing.
package otel
