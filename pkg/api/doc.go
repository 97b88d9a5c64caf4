// Package api defines the shared vocabulary of the process engine
//
// It contains the identifier types, the serializable process definition
// graph handed over by the builder, and the variable types shared between
// the engine, the job executor, and client code
package api
