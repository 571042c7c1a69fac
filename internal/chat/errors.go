package chat

import "errors"

var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrInvalidConversation  = errors.New("chat: conversation id must be 1-191 characters")
	ErrInvalidRole          = errors.New("chat: role must be user or assistant")
	ErrEmptyPrompt          = errors.New("chat: prompt is empty")
	ErrNothingToTitle       = errors.New("chat: conversation has no user message yet")
	ErrJobNotFound          = errors.New("chat: job not found")

	// ErrJobFailed marks an error whose failure is already recorded on the
	// job row. Redelivering the job will not change the outcome.
	ErrJobFailed = errors.New("chat: job failed")
)
