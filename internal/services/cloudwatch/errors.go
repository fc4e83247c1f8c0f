package cloudwatch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"cw/internal/services"
)

var (
	notFoundCodes = map[string]bool{
		"ResourceNotFoundException": true,
	}
	unauthorizedCodes = map[string]bool{
		"AccessDeniedException":       true,
		"UnrecognizedClientException": true,
		"ExpiredTokenException":       true,
		"ExpiredToken":                true,
		"InvalidClientTokenId":        true,
		"InvalidSignatureException":   true,
		"SignatureDoesNotMatch":       true,
		"UnauthorizedOperation":       true,
		"AccessDenied":                true,
	}
	transientCodes = map[string]bool{
		"ThrottlingException":         true,
		"Throttling":                  true,
		"LimitExceededException":      true,
		"ServiceUnavailableException": true,
		"ServiceUnavailable":          true,
		"InternalFailure":             true,
		"RequestTimeout":              true,
		"RequestTimeoutException":     true,
	}
	rejectedCodes = map[string]bool{
		"InvalidParameterException": true,
		"MalformedQueryException":   true,
		"InvalidOperationException": true,
		"ValidationException":       true,
	}
)

// Classify tags an SDK error with the matching services marker. Context
// cancellation passes through untouched so callers can tell it apart from a
// failure.
func Classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case notFoundCodes[code]:
			return services.Wrap(services.ErrNotFound, "cloudwatch", operation, apiErr.ErrorMessage(), err)
		case unauthorizedCodes[code]:
			return services.Wrap(services.ErrUnauthorized, "cloudwatch", operation, code, err)
		case transientCodes[code]:
			return services.Wrap(services.ErrTransient, "cloudwatch", operation, code, err)
		case rejectedCodes[code]:
			return services.Wrap(services.ErrRejected, "cloudwatch", operation, apiErr.ErrorMessage(), err)
		case apiErr.ErrorFault() == smithy.FaultServer:
			return services.Wrap(services.ErrTransient, "cloudwatch", operation, code, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return services.Wrap(services.ErrUnauthorized, "cloudwatch", operation, "", err)
		case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
			return services.Wrap(services.ErrTransient, "cloudwatch", operation, "", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTransient, "cloudwatch", operation, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrTransient, "cloudwatch", operation, "network error", err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "credentials") {
		return services.Wrap(services.ErrUnauthorized, "cloudwatch", operation, "no usable AWS credentials", err)
	}
	return services.Wrap(services.ErrRejected, "cloudwatch", operation, "", err)
}
