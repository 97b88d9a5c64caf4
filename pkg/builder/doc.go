// Package builder provides a fluent interface for constructing process
// definitions that can be deployed to the engine
package builder
