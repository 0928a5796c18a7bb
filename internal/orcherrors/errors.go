// Package orcherrors defines the structured error taxonomy shared across the
// orchestrator. Every error here is meant to be inspected and flattened into
// a response envelope; none of them are allowed to cross the RPC boundary as
// a panic.
package orcherrors

import "fmt"

// Class identifies which row of the error taxonomy an error belongs to.
type Class string

const (
	ClassConfig           Class = "config_error"
	ClassCapsuleNotFound  Class = "capsule_not_found"
	ClassSchemaInput      Class = "schema_validation_input"
	ClassSchemaOutput     Class = "schema_validation_output"
	ClassFileOperation    Class = "file_operation_error"
	ClassContainerBuild   Class = "container_build_error"
	ClassContainerRun     Class = "container_run_error"
	ClassContainerTimeout Class = "container_timeout_error"
	ClassHandoff          Class = "handoff_error"
)

// OrchestratorError wraps an underlying cause with the taxonomy class it
// belongs to, plus optional captured container logs for diagnostics.
type OrchestratorError struct {
	Class Class
	Msg   string
	Logs  string
	Err   error
}

func (e *OrchestratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

func newErr(class Class, msg string, err error) *OrchestratorError {
	return &OrchestratorError{Class: class, Msg: msg, Err: err}
}

func CapsuleNotFound(name string) *OrchestratorError {
	return newErr(ClassCapsuleNotFound, fmt.Sprintf("capsule %q not found", name), nil)
}

func SchemaInputInvalid(detail string, err error) *OrchestratorError {
	return newErr(ClassSchemaInput, detail, err)
}

func SchemaOutputInvalid(detail string, err error) *OrchestratorError {
	return newErr(ClassSchemaOutput, detail, err)
}

func FileOperation(msg string, err error) *OrchestratorError {
	return newErr(ClassFileOperation, msg, err)
}

func ContainerBuild(msg string, err error) *OrchestratorError {
	return newErr(ClassContainerBuild, msg, err)
}

func ContainerRun(msg string, logs string, err error) *OrchestratorError {
	e := newErr(ClassContainerRun, msg, err)
	e.Logs = logs
	return e
}

func ContainerTimeout(msg string, logs string) *OrchestratorError {
	e := newErr(ClassContainerTimeout, msg, nil)
	e.Logs = logs
	return e
}

func Handoff(msg string, err error) *OrchestratorError {
	return newErr(ClassHandoff, msg, err)
}

func Config(msg string, err error) *OrchestratorError {
	return newErr(ClassConfig, msg, err)
}
