package awsinfra

import (
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

// Codes that no amount of retrying will fix.
var permanentCodes = map[string]bool{
	"AccessDenied":                            true,
	"AccessDeniedException":                   true,
	"InvalidAccessKeyId":                      true,
	"SignatureDoesNotMatch":                   true,
	"UnrecognizedClientException":             true,
	"ValidationException":                     true,
	"InvalidRequestException":                 true,
	"InvalidParameterValue":                   true,
	"InvalidParameterException":               true,
	"MissingParameter":                        true,
	"NoSuchBucket":                            true,
	"NoSuchKey":                               true,
	"NotFound":                                true,
	"ResourceNotFoundException":               true,
	"AWS.SimpleQueueService.NonExistentQueue": true,
	"QueueDoesNotExist":                       true,
}

var (
	throttles  = awsretry.IsErrorThrottles(awsretry.DefaultThrottles)
	retryables = awsretry.IsErrorRetryables(awsretry.DefaultRetryables)
)

// Classify maps AWS SDK errors onto retry classes. Errors it does not recognise are
// left as ClassUnknown so a chained classifier can decide.
func Classify(err error) retry.ErrorClass {
	if err == nil {
		return retry.ClassUnknown
	}

	// Decided by the generic classifier, whatever AWS error they carry
	var ex *retry.ExhaustedError
	var he *retry.HandlerError
	if errors.As(err, &ex) || errors.As(err, &he) || retry.IsPermanent(err) || retry.IsTransient(err) {
		return retry.ClassUnknown
	}

	var noKey *s3types.NoSuchKey
	var noBucket *s3types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return retry.ClassPermanent
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && permanentCodes[apiErr.ErrorCode()] {
		return retry.ClassPermanent
	}

	if throttles.IsErrorThrottle(err) == aws.TrueTernary {
		return retry.ClassTransient
	}
	if retryables.IsErrorRetryable(err) == aws.TrueTernary {
		return retry.ClassTransient
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(respErr.HTTPStatusCode())
	}

	return retry.ClassUnknown
}

func classifyStatus(code int) retry.ErrorClass {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return retry.ClassTransient
	case code >= 500:
		return retry.ClassTransient
	case code >= 400:
		return retry.ClassPermanent
	default:
		return retry.ClassUnknown
	}
}
