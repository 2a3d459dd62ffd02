package services

import "errors"

var (
	// ErrAutomationRepositoryMissing indicates the automation repository dependency is absent.
	ErrAutomationRepositoryMissing = errors.New("automation engine: automation repository is not configured")
	// ErrRunLogRepositoryMissing indicates the run log repository dependency is absent.
	ErrRunLogRepositoryMissing = errors.New("automation engine: run log repository is not configured")
	// ErrAutomationInvalidInput reports a malformed event or request.
	ErrAutomationInvalidInput = errors.New("automation engine: invalid input")
	// ErrAutomationNotFound is returned by test runs for unknown automations.
	ErrAutomationNotFound = errors.New("automation engine: automation not found")
	// ErrAutomationRepositoryUnavailable signals the automation store could not be reached.
	ErrAutomationRepositoryUnavailable = errors.New("automation engine: repository unavailable")
	// ErrActionHandlerMissing is recorded on run logs when an action type has no handler.
	ErrActionHandlerMissing = errors.New("automation engine: no handler for action type")
)
