// Package errors provides the ledger's structured error outcomes.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable reason code returned with every failed command.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeSelfReferral     Code = "SELF_REFERRAL"
	CodeReferralCycle    Code = "REFERRAL_CYCLE"
	CodeBelowMinimum     Code = "BELOW_MINIMUM"

	// Lookup errors
	CodeNotFound     Code = "NOT_FOUND"
	CodeCodeNotFound Code = "CODE_NOT_FOUND"

	// State-conflict errors
	CodeAlreadyBound        Code = "ALREADY_BOUND"
	CodeNotPending          Code = "NOT_PENDING"
	CodeAlreadySettled      Code = "ALREADY_SETTLED"
	CodeNotApproved         Code = "NOT_APPROVED"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// Integrity errors
	CodeConfigUnavailable  Code = "CONFIG_UNAVAILABLE"
	CodeIntegrityViolation Code = "INTEGRITY_VIOLATION"

	CodeInternal Code = "INTERNAL"
)

// GRPCCode maps reason codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidArgument,
		CodeValidationFailed,
		CodeSelfReferral,
		CodeReferralCycle,
		CodeBelowMinimum:
		return codes.InvalidArgument

	case CodeNotFound,
		CodeCodeNotFound:
		return codes.NotFound

	case CodeAlreadyBound:
		return codes.AlreadyExists

	case CodeNotPending,
		CodeAlreadySettled,
		CodeNotApproved,
		CodeInsufficientBalance:
		return codes.FailedPrecondition

	case CodeConfigUnavailable:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
