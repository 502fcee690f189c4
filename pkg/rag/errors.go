package rag

import "fmt"

// PipelineError is the engine-boundary error type. Component names the
// failing stage, Operation the call within it.
type PipelineError struct {
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func pipelineErr(component, operation, message string, err error) *PipelineError {
	return &PipelineError{
		Component: component,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
