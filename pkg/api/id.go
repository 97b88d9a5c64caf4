package api

import (
	"regexp"
	"strings"
)

type (
	// DeploymentID is a unique identifier for a deployment
	DeploymentID string

	// ProcessDefinitionID is a unique identifier for a deployed, versioned
	// process definition
	ProcessDefinitionID string

	// ProcessDefinitionKey names a process definition across its versions
	ProcessDefinitionKey string

	// ProcessInstanceID is a unique identifier for a process instance. It
	// is the ID of the instance's root execution
	ProcessInstanceID string

	// ExecutionID is a unique identifier for an execution
	ExecutionID string

	// ActivityID is a unique identifier for an activity within a process
	// definition
	ActivityID string

	// JobID is a unique identifier for a job
	JobID string

	// VariableName names a process variable
	VariableName string
)

// InvalidIDChars matches characters not permitted in definition keys and
// activity IDs. Valid characters are: letters, digits, underscore, dot,
// hyphen, plus, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}
