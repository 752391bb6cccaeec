package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodePermission    Code = "PERMISSION_ERROR"
	CodeAPI           Code = "API_ERROR"
	CodeRateLimit     Code = "RATE_LIMITED"
	CodeTransient     Code = "TRANSIENT_ERROR"
	CodeBulkBlocked   Code = "BULK_BLOCKED"
	CodeBulkThrottled Code = "BULK_THROTTLED"
	CodeBulkFailed    Code = "BULK_FAILED"
	CodePollTimeout   Code = "POLL_TIMEOUT"
	CodeParse         Code = "PARSE_ERROR"
	CodeStore         Code = "STORE_ERROR"
	CodeInfra         Code = "INFRA_ERROR"
)

// maxReasonLength caps user-visible error reasons.
const maxReasonLength = 2048

type Metadata struct {
	HTTPStatus    int
	Recoverable   bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:    http.StatusBadRequest,
		Recoverable:   false,
		PublicMessage: "invalid request options",
	},
	CodePermission: {
		HTTPStatus:    http.StatusForbidden,
		Recoverable:   false,
		PublicMessage: "missing access scope",
	},
	CodeAPI: {
		HTTPStatus:    http.StatusBadGateway,
		Recoverable:   false,
		PublicMessage: "store API request failed",
	},
	CodeRateLimit: {
		HTTPStatus:    http.StatusTooManyRequests,
		Recoverable:   true,
		PublicMessage: "store API rate limited",
	},
	CodeTransient: {
		HTTPStatus:    http.StatusServiceUnavailable,
		Recoverable:   true,
		PublicMessage: "transient upstream failure",
	},
	CodeBulkBlocked: {
		HTTPStatus:    http.StatusConflict,
		Recoverable:   true,
		PublicMessage: "a bulk operation is already in progress",
	},
	CodeBulkThrottled: {
		HTTPStatus:    http.StatusTooManyRequests,
		Recoverable:   true,
		PublicMessage: "bulk operation throttled",
	},
	CodeBulkFailed: {
		HTTPStatus:    http.StatusBadGateway,
		Recoverable:   false,
		PublicMessage: "bulk operation failed",
	},
	CodePollTimeout: {
		HTTPStatus:    http.StatusGatewayTimeout,
		Recoverable:   false,
		PublicMessage: "bulk operation did not complete in time",
	},
	CodeParse: {
		HTTPStatus:    http.StatusBadGateway,
		Recoverable:   false,
		PublicMessage: "result parsing failed",
	},
	CodeStore: {
		HTTPStatus:    http.StatusInternalServerError,
		Recoverable:   false,
		PublicMessage: "intermediate store failure",
	},
	CodeInfra: {
		HTTPStatus:    http.StatusInternalServerError,
		Recoverable:   false,
		PublicMessage: "internal error",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInfra]
}

type Error struct {
	code    Code
	tag     string
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: truncate(message)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: truncate(message), cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInfra
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Tag identifies the module or step that raised the error.
func (e *Error) Tag() string {
	if e == nil {
		return ""
	}
	return e.tag
}

func (e *Error) WithTag(tag string) *Error {
	if e == nil {
		return nil
	}
	e.tag = tag
	return e
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.tag != "" {
		return fmt.Sprintf("%s [%s]: %s", e.code, e.tag, e.message)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf extracts the error code, defaulting to CodeInfra for foreign errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInfra
}

// IsRecoverable reports whether the error's code allows a local retry.
func IsRecoverable(err error) bool {
	return MetadataFor(CodeOf(err)).Recoverable
}

func truncate(message string) string {
	if len(message) <= maxReasonLength {
		return message
	}
	return message[:maxReasonLength]
}
