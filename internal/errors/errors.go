package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents an nsys-ai error code.
type ErrorCode string

const (
	ErrInvalidRequest           ErrorCode = "INVALID_REQUEST"            // 400
	ErrMissingRequiredParameter ErrorCode = "MISSING_REQUIRED_PARAMETER" // 400
	ErrNotFound                 ErrorCode = "NOT_FOUND"                  // 404
	ErrUnknownSkill             ErrorCode = "UNKNOWN_SKILL"              // 404
	ErrSkillConflict            ErrorCode = "SKILL_CONFLICT"             // 409
	ErrSchemaUnavailable        ErrorCode = "SCHEMA_UNAVAILABLE"         // 422
	ErrNoDevices                ErrorCode = "NO_DEVICES"                 // 422
	ErrQueryFailed              ErrorCode = "QUERY_FAILED"               // 422
	ErrConversionFailed         ErrorCode = "CONVERSION_FAILED"          // 502
	ErrExternalToolMissing      ErrorCode = "EXTERNAL_TOOL_MISSING"      // 503
	ErrInternal                 ErrorCode = "INTERNAL"                   // 500
)

// NsysError represents a structured error with code, status, and details.
type NsysError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *NsysError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *NsysError {
	return &NsysError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewMissingRequiredParameter creates a 400 error when a skill is run without
// one of its required parameters and the parameter declares no default.
func NewMissingRequiredParameter(skill, param string) *NsysError {
	return &NsysError{
		Code:    ErrMissingRequiredParameter,
		Status:  400,
		Message: fmt.Sprintf("skill %q requires parameter %q", skill, param),
		Details: map[string]any{"skill": skill, "parameter": param},
	}
}

// NewNotFound creates a 404 error for a profile path that does not exist.
func NewNotFound(path string) *NsysError {
	return &NsysError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("profile not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewUnknownSkill creates a 404 error listing every registered skill name.
func NewUnknownSkill(name string, available []string) *NsysError {
	return &NsysError{
		Code:    ErrUnknownSkill,
		Status:  404,
		Message: fmt.Sprintf("unknown skill %q. Available: %s", name, strings.Join(available, ", ")),
		Details: map[string]any{"skill": name, "available": available},
	}
}

// NewSkillConflict creates a 409 error when a skill name is registered twice
// under the reject conflict policy.
func NewSkillConflict(name string) *NsysError {
	return &NsysError{
		Code:    ErrSkillConflict,
		Status:  409,
		Message: fmt.Sprintf("skill %q is already registered", name),
		Details: map[string]any{"skill": name},
	}
}

// NewSchemaUnavailable creates a 422 error for a snapshot without a usable
// kernel activity table. The inferred exporter version (if any) and the
// detected tables are carried so operators can judge compatibility.
func NewSchemaUnavailable(version string, tables []string) *NsysError {
	msg := "profile does not contain GPU kernel activity (no suitable KERNEL table found)"
	if version != "" {
		msg += fmt.Sprintf(" (Nsight version: %s)", version)
	}
	msg += fmt.Sprintf("; detected %d tables", len(tables))
	if len(tables) > 0 {
		msg += ": " + strings.Join(tables, ", ")
	}
	msg += ". It may have been captured without CUDA kernel tracing, or exported with a schema layout this version does not understand"
	return &NsysError{
		Code:    ErrSchemaUnavailable,
		Status:  422,
		Message: msg,
		Details: map[string]any{"version": version, "tables": tables},
	}
}

// NewNoDevices creates a 422 error when the kernel table holds no device rows.
func NewNoDevices(table string) *NsysError {
	return &NsysError{
		Code:    ErrNoDevices,
		Status:  422,
		Message: fmt.Sprintf("no GPU devices found in %s", table),
		Details: map[string]any{"table": table},
	}
}

// NewExternalToolMissing creates a 503 error when the conversion tool is not installed.
func NewExternalToolMissing(tool string) *NsysError {
	return &NsysError{
		Code:   ErrExternalToolMissing,
		Status: 503,
		Message: fmt.Sprintf("profile is .nsys-rep; conversion requires '%s' (NVIDIA Nsight Systems) on PATH. "+
			"Install Nsight Systems or export manually: nsys export --type sqlite -o out.sqlite <file.nsys-rep>", tool),
		Details: map[string]any{"tool": tool},
	}
}

// NewConversionFailed creates a 502 error carrying the conversion tool's diagnostic output.
func NewConversionFailed(output string) *NsysError {
	return &NsysError{
		Code:   ErrConversionFailed,
		Status: 502,
		Message: fmt.Sprintf("nsys export failed: %s. "+
			"Export manually: nsys export --type sqlite -o out.sqlite <file.nsys-rep>", output),
		Details: map[string]any{"output": output},
	}
}

// NewQueryFailed creates a 422 error for a skill query the snapshot could not
// answer, typically because a table or column is missing from this export.
// The driver message is kept in Message.
func NewQueryFailed(skill string, err error) *NsysError {
	return &NsysError{
		Code:    ErrQueryFailed,
		Status:  422,
		Message: fmt.Sprintf("skill %q query failed: %v", skill, err),
		Details: map[string]any{"skill": skill, "query_error": err.Error()},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The original error text is kept in Details for logging, not in Message.
func NewInternal(err error) *NsysError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &NsysError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error (or anything it wraps) is an NsysError with the given code.
func Is(err error, code ErrorCode) bool {
	var nErr *NsysError
	if stderrors.As(err, &nErr) {
		return nErr.Code == code
	}
	return false
}
