package worker

import "fmt"

// Stage names a step of the processing pipeline, used in job error messages.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageExtract  Stage = "extract"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StagePersist  Stage = "persist"
	StageFinalize Stage = "finalize"
)

// StageError wraps a pipeline failure with the stage it happened in and
// whether redelivery could plausibly succeed.
type StageError struct {
	Stage     Stage
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func retryable(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Retryable: true, Err: err}
}

func terminal(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Retryable: false, Err: err}
}
