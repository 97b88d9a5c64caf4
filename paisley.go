// Package paisley identifies the engine to logging and diagnostics
package paisley

const (
	// Name is the service name reported in logs
	Name = "paisley"

	// Version is the engine version
	Version = "0.1.0"
)
