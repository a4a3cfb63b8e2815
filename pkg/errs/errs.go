package errs

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Code is the stable, user-visible tag of a rejected call.
type Code string

const (
	CodeCantParseAddress    Code = "ERR_CANT_PARSE_ADDRESS"
	CodeCantParseData       Code = "ERR_CANT_PARSE_DATA"
	CodeAbiEncoding         Code = "ERR_ABI_ENCODING"
	CodeNoActors            Code = "ERR_NO_ACTORS"
	CodeTooManyActors       Code = "ERR_TOO_MANY_ACTORS"
	CodeInvalidActor        Code = "ERR_INVALID_ACTOR"
	CodeInvalidAmount       Code = "ERR_INVALID_AMOUNT"
	CodeInsufficientDeposit Code = "ERR_INSUFFICIENT_DEPOSIT"
	CodeInsufficientGas     Code = "ERR_INSUFFICIENT_GAS"
	CodeNotFound            Code = "ERR_NOT_FOUND"
	CodeTimeIsUp            Code = "ERR_TIME_IS_UP"
	CodeForbidden           Code = "ERR_FORBIDDEN"
	CodeAlreadyExists       Code = "ERR_ALREADY_EXISTS"
	CodeStorage             Code = "ERR_STORAGE"
	CodeSigner              Code = "ERR_SIGNER"
	CodeUnauthenticated     Code = "ERR_UNAUTHENTICATED"
	CodeRateLimited         Code = "ERR_RATE_LIMITED"
)

// CodedError carries a Code and a human readable message. Two CodedErrors match
// under errors.Is when their codes are equal.
type CodedError struct {
	Code    Code
	Message string
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Is(target error) bool {
	t, ok := target.(*CodedError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrCantParseAddress    = &CodedError{Code: CodeCantParseAddress}
	ErrCantParseData       = &CodedError{Code: CodeCantParseData}
	ErrAbiEncoding         = &CodedError{Code: CodeAbiEncoding}
	ErrNoActors            = &CodedError{Code: CodeNoActors}
	ErrTooManyActors       = &CodedError{Code: CodeTooManyActors}
	ErrInvalidActor        = &CodedError{Code: CodeInvalidActor}
	ErrInvalidAmount       = &CodedError{Code: CodeInvalidAmount}
	ErrInsufficientDeposit = &CodedError{Code: CodeInsufficientDeposit}
	ErrInsufficientGas     = &CodedError{Code: CodeInsufficientGas}
	ErrNotFound            = &CodedError{Code: CodeNotFound}
	ErrTimeIsUp            = &CodedError{Code: CodeTimeIsUp}
	ErrForbidden           = &CodedError{Code: CodeForbidden}
	ErrAlreadyExists       = &CodedError{Code: CodeAlreadyExists}
	ErrStorage             = &CodedError{Code: CodeStorage}
	ErrSigner              = &CodedError{Code: CodeSigner}
	ErrUnauthenticated     = &CodedError{Code: CodeUnauthenticated}
	ErrRateLimited         = &CodedError{Code: CodeRateLimited}
)

// New returns a CodedError with a formatted message.
func New(code Code, format string, args ...interface{}) error {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of the first CodedError in err's chain.
func CodeOf(err error) (Code, bool) {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, true
	}
	return "", false
}

// HTTPStatus maps a code to the status the API answers with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeCantParseAddress, CodeCantParseData, CodeAbiEncoding, CodeNoActors,
		CodeTooManyActors, CodeInvalidActor, CodeInvalidAmount:
		return http.StatusBadRequest
	case CodeInsufficientDeposit, CodeInsufficientGas:
		return http.StatusPaymentRequired
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTimeIsUp:
		return http.StatusGone
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeSigner:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
