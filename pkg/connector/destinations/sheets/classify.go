package sheets

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
)

// Classify maps an append failure to a rejection reason.
//
// Token refresh failures surface wrapped in *url.Error, so they are checked
// before anything transport-shaped.
func Classify(err error) core.RejectReason {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		return core.RejectAuthentication
	}

	if stderrors.Is(err, context.Canceled) {
		return core.RejectCancelled
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return core.RejectResponseDecode
	}

	return core.RejectTransport
}

func classifyStatus(code int) core.RejectReason {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return core.RejectAuthentication
	case code == http.StatusRequestEntityTooLarge:
		return core.RejectPayloadTooLarge
	case code == http.StatusTooManyRequests:
		return core.RejectServerFailure
	case code >= 400 && code < 500:
		return core.RejectMalformedRequest
	case code >= 500:
		return core.RejectServerFailure
	default:
		return core.RejectTransport
	}
}
