package domain

import "errors"

var (
	ErrNoDatabaseSelected   = errors.New("no database selected")
	ErrCollectionNotFound   = errors.New("collection does not exist")
	ErrInvalidQuerySpec     = errors.New("invalid query specification")
	ErrInvalidLLMResponse   = errors.New("invalid LLM response")
	ErrLLMFailed            = errors.New("language model request failed")
	ErrWriteNotAllowed      = errors.New("write operations are disabled")
	ErrEmptyDeleteFilter    = errors.New("delete filter cannot be empty")
	ErrNoAgent              = errors.New("no agent registered for task")
	ErrCycle                = errors.New("task dependencies contain a cycle")
	ErrUnknownTask          = errors.New("unknown task")
	ErrConnectorUnavailable = errors.New("database connector not configured")
	ErrRunNotFound          = errors.New("run not found")
	ErrEmptyQuestion        = errors.New("question is empty")
)
