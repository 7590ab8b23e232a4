package plugin

import (
	"fmt"

	xerrors "DrawSight/internal/errors"
)

const (
	CodeValidation        xerrors.Code = "PLUGIN_VALIDATION_FAILED"
	CodeNotFound          xerrors.Code = "PLUGIN_NOT_FOUND"
	CodeBusy              xerrors.Code = "PLUGIN_BUSY"
	CodeNotReady          xerrors.Code = "PLUGIN_NOT_READY"
	CodeResourceExhausted xerrors.Code = "PLUGIN_RESOURCE_EXHAUSTED"
	CodeTimeout           xerrors.Code = "PLUGIN_TIMEOUT"
	CodeExecutionFailed   xerrors.Code = "PLUGIN_EXECUTION_FAILED"
	CodeCancelled         xerrors.Code = "PLUGIN_EXECUTION_CANCELLED"
	CodeRegistration      xerrors.Code = "PLUGIN_REGISTRATION_FAILED"
)

// Sentinels for use with errors.Is. Matching is by code, so any error the
// manager returns with the same code satisfies errors.Is(err, ErrBusy).
var (
	ErrValidation        = xerrors.New(CodeValidation, "")
	ErrNotFound          = xerrors.New(CodeNotFound, "")
	ErrBusy              = xerrors.New(CodeBusy, "")
	ErrNotReady          = xerrors.New(CodeNotReady, "")
	ErrResourceExhausted = xerrors.New(CodeResourceExhausted, "")
	ErrTimeout           = xerrors.New(CodeTimeout, "")
	ErrExecutionFailed   = xerrors.New(CodeExecutionFailed, "")
	ErrCancelled         = xerrors.New(CodeCancelled, "")
	ErrRegistration      = xerrors.New(CodeRegistration, "")
)

const fieldKey = "field"

func init() {
	xerrors.Register(CodeValidation, xerrors.Attributes{Message: "invalid prediction parameters", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeNotFound, xerrors.Attributes{Message: "plugin not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeBusy, xerrors.Attributes{Message: "plugin is busy", Severity: xerrors.SeverityInfo, Retryable: true})
	xerrors.Register(CodeNotReady, xerrors.Attributes{Message: "plugin is not ready", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeResourceExhausted, xerrors.Attributes{Message: "no execution slot available", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeTimeout, xerrors.Attributes{Message: "plugin execution timed out", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true})
	xerrors.Register(CodeExecutionFailed, xerrors.Attributes{Message: "plugin execution failed", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeCancelled, xerrors.Attributes{Message: "plugin execution cancelled", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeRegistration, xerrors.Attributes{Message: "plugin registration rejected", Severity: xerrors.SeverityWarning})
}

// NewValidationError reports an invalid parameter. field names the offending
// input, e.g. "prediction_count" or "algorithm_params.decay_factor".
func NewValidationError(field, format string, args ...any) error {
	return xerrors.New(CodeValidation, fmt.Sprintf(format, args...), xerrors.WithMetadata(fieldKey, field))
}

func registrationError(field, format string, args ...any) error {
	return xerrors.New(CodeRegistration, fmt.Sprintf(format, args...), xerrors.WithMetadata(fieldKey, field))
}

func notFound(id string) error {
	return xerrors.New(CodeNotFound, fmt.Sprintf("plugin %s not found", id), xerrors.WithMetadata("plugin_id", id))
}

// FieldOf returns the offending field of a validation or registration error.
func FieldOf(err error) string {
	if e, ok := xerrors.From(err); ok {
		return e.MetadataValue(fieldKey)
	}
	return ""
}

// asValidation keeps plugin validation errors that already carry the taxonomy
// code untouched and wraps anything else.
func asValidation(err error) error {
	if xerrors.CodeOf(err) == CodeValidation {
		return err
	}
	return xerrors.Wrap(CodeValidation, err, "invalid prediction parameters")
}
