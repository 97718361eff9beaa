package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes shared by the HTTP layer and the CLI.
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeNotFound              = "NOT_FOUND"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeConflict              = "CONFLICT"
	CodeInternal              = "INTERNAL_ERROR"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeAssigneeRequired      = "ASSIGNEE_REQUIRED"
	CodeAssigneeNotAssignable = "ASSIGNEE_NOT_ASSIGNABLE"
	CodeNoLinkedTickets       = "NO_LINKED_TICKETS"
	CodeSweepInProgress       = "SWEEP_IN_PROGRESS"
)

// Reason codes carried in Details["reason"].
const (
	ReasonResolutionCommentRequired   = "resolution_comment_required"
	ReasonResolutionRequiresRootCause = "problem_resolution_requires_root_cause_and_permanent_fix"
	ReasonInvalidStatus               = "invalid_problem_status"
	ReasonAssigneeRequired            = "assignee_required"
	ReasonAssigneeNotAssignable       = "assignee_not_assignable"
	ReasonNoAssigneeAvailable         = "no_assignee_available"
	ReasonNoLinkedTickets             = "problem_has_no_linked_tickets"
	ReasonCategoryMismatch            = "ticket_category_mismatch"
)

// Sentinels for errors.Is matching by code.
var (
	ErrInvalidTransition     = &DomainError{Code: CodeInvalidTransition}
	ErrAssigneeRequired      = &DomainError{Code: CodeAssigneeRequired}
	ErrAssigneeNotAssignable = &DomainError{Code: CodeAssigneeNotAssignable}
	ErrNoLinkedTickets       = &DomainError{Code: CodeNoLinkedTickets}
	ErrNotFound              = &DomainError{Code: CodeNotFound}
	ErrValidation            = &DomainError{Code: CodeValidationFailed}
	ErrSweepInProgress       = &DomainError{Code: CodeSweepInProgress}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Reason returns the machine-readable reason, if any.
func (e *DomainError) Reason() string {
	if e == nil || e.Details == nil {
		return ""
	}
	reason, _ := e.Details["reason"].(string)
	return reason
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewInvalidTransition reports a rejected problem status change.
func NewInvalidTransition(reason, message string, details map[string]any) error {
	return NewDomainError(CodeInvalidTransition, message, http.StatusUnprocessableEntity, withReason(details, reason))
}

func NewAssigneeRequired(reason, message string) error {
	return NewDomainError(CodeAssigneeRequired, message, http.StatusBadRequest, withReason(nil, reason))
}

func NewAssigneeNotAssignable(assignee string) error {
	return NewDomainError(CodeAssigneeNotAssignable, "assignee is not assignable", http.StatusUnprocessableEntity,
		withReason(map[string]any{"assignee": assignee}, ReasonAssigneeNotAssignable))
}

func NewNoLinkedTickets(problemID string) error {
	return NewDomainError(CodeNoLinkedTickets, "problem has no linked tickets", http.StatusConflict,
		withReason(map[string]any{"problem_id": problemID}, ReasonNoLinkedTickets))
}

func NewSweepInProgress() error {
	return NewDomainError(CodeSweepInProgress, "another problem detection sweep is running", http.StatusConflict, nil)
}

func withReason(details map[string]any, reason string) map[string]any {
	if details == nil {
		details = map[string]any{}
	}
	if reason != "" {
		details["reason"] = reason
	}
	return details
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if domainErr.HTTPStatus == 0 {
			domainErr.HTTPStatus = http.StatusInternalServerError
		}
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
