package awsapi

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// ErrorCode extracts the AWS API error code from err, or "" when err is not
// an API error.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// Error codes that mean the resource is already gone; deletes treat these
// as success.
var notFoundCodes = map[string]bool{
	"NoSuchEntity":                                true,
	"NoSuchBucket":                                true,
	"NoSuchKey":                                   true,
	"NotFound":                                    true,
	"NotFoundException":                           true,
	"ResourceNotFound":                            true,
	"ResourceNotFoundException":                   true,
	"ResourceNotFoundFault":                       true,
	"ClusterNotFoundFault":                        true,
	"ClusterSubnetGroupNotFoundFault":             true,
	"ClusterParameterGroupNotFoundFault":          true,
	"StateMachineDoesNotExist":                    true,
	"InvalidGroup.NotFound":                       true,
	"InvalidGroupId.NotFound":                     true,
	"InvalidKeyPair.NotFound":                     true,
	"InvalidInstanceID.NotFound":                  true,
	"InvalidLaunchTemplateId.NotFound":            true,
	"InvalidLaunchTemplateName.NotFoundException": true,
	"ReplicationConfigurationNotFoundError":       true,
}

// IsNotFound reports whether err means the resource does not exist.
// AutoScaling reports an absent group as a generic ValidationError
// ("AutoScalingGroup name not found - ..."), so that code is matched on its
// message rather than treating every validation failure as absence.
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.ErrorCode() == "ValidationError" {
		return strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "not found")
	}
	return notFoundCodes[apiErr.ErrorCode()]
}

// Error codes retried with back-off.
var throttleCodes = map[string]bool{
	"Throttling":               true,
	"ThrottlingException":      true,
	"RequestLimitExceeded":     true,
	"TooManyRequestsException": true,
	"SlowDown":                 true,
	"RequestThrottled":         true,
}

// IsThrottle reports whether err is an API throttle.
func IsThrottle(err error) bool {
	return throttleCodes[ErrorCode(err)]
}

// IsDependencyViolation reports whether err means the resource is still
// referenced by another.
func IsDependencyViolation(err error) bool {
	return ErrorCode(err) == "DependencyViolation"
}

// IsAccessDenied reports whether err is an authorization failure.
func IsAccessDenied(err error) bool {
	code := ErrorCode(err)
	return code == "AccessDenied" || code == "AccessDeniedException" ||
		code == "UnauthorizedOperation" || code == "AuthFailure"
}

// IsTransient reports whether err is a transient server-side failure.
func IsTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InternalError", "InternalFailure", "ServiceUnavailable", "RequestTimeout":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	return false
}
