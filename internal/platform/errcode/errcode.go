// Package errcode defines the outcome codes shared by the delegation, payment and registry
// pipelines and their mapping to HTTP status codes.
package errcode

import "net/http"

// Code identifies why a validation, payment or registry operation did not succeed.
type Code string

const (
	InvalidTokenFormat       Code = "INVALID_TOKEN_FORMAT"
	InvalidSignature         Code = "INVALID_SIGNATURE"
	UnauthorizedIssuer       Code = "UNAUTHORIZED_ISSUER"
	TokenExpired             Code = "TOKEN_EXPIRED"
	InsufficientPermissions  Code = "INSUFFICIENT_PERMISSIONS"
	ConstraintViolation      Code = "CONSTRAINT_VIOLATION"
	RateLimited              Code = "RATE_LIMITED"
	DelegationRevoked        Code = "DELEGATION_REVOKED"
	PaymentSchemeUnsupported Code = "PAYMENT_SCHEME_UNSUPPORTED"
	AmountOutOfRange         Code = "AMOUNT_OUT_OF_RANGE"
	TransactionFailed        Code = "TRANSACTION_FAILED"
	PaymentRequired          Code = "PAYMENT_REQUIRED"
	ServiceNotFound          Code = "SERVICE_NOT_FOUND"
	ServiceInactive          Code = "SERVICE_INACTIVE"
	VerificationFailed       Code = "VERIFICATION_FAILED"
	InvalidRequest           Code = "INVALID_REQUEST"
	ValidationError          Code = "VALIDATION_ERROR"
	Internal                 Code = "INTERNAL"
)

// HTTPStatus returns the status an adapter should render for code.
// Unknown codes map to 500.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidTokenFormat, InvalidSignature, TokenExpired, DelegationRevoked:
		return http.StatusUnauthorized
	case UnauthorizedIssuer, InsufficientPermissions, ConstraintViolation:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case PaymentRequired, VerificationFailed:
		return http.StatusPaymentRequired
	case PaymentSchemeUnsupported, AmountOutOfRange, InvalidRequest:
		return http.StatusBadRequest
	case TransactionFailed:
		return http.StatusBadGateway
	case ServiceNotFound:
		return http.StatusNotFound
	case ServiceInactive:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
