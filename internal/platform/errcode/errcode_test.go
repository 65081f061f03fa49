package errcode

import (
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	testCases := []struct {
		code Code
		want int
	}{
		{InvalidTokenFormat, http.StatusUnauthorized},
		{InvalidSignature, http.StatusUnauthorized},
		{TokenExpired, http.StatusUnauthorized},
		{DelegationRevoked, http.StatusUnauthorized},
		{UnauthorizedIssuer, http.StatusForbidden},
		{InsufficientPermissions, http.StatusForbidden},
		{ConstraintViolation, http.StatusForbidden},
		{RateLimited, http.StatusTooManyRequests},
		{PaymentRequired, http.StatusPaymentRequired},
		{VerificationFailed, http.StatusPaymentRequired},
		{AmountOutOfRange, http.StatusBadRequest},
		{PaymentSchemeUnsupported, http.StatusBadRequest},
		{TransactionFailed, http.StatusBadGateway},
		{ServiceNotFound, http.StatusNotFound},
		{ServiceInactive, http.StatusServiceUnavailable},
		{ValidationError, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(string(tc.code), func(t *testing.T) {
			if got := HTTPStatus(tc.code); got != tc.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
			}
		})
	}
}
