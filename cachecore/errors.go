package cachecore

import (
	"errors"

	platformerrors "github.com/jmgilman/go/errors"
)

// ErrDisposed is returned by every operation invoked after Dispose.
var ErrDisposed = errors.New("cache: driver disposed")

// ConnectionError wraps a transport failure reaching a remote store.
// The cause stays reachable through errors.Is / errors.As; no retry is attempted.
func ConnectionError(op string, err error) error {
	if err == nil {
		return nil
	}
	return platformerrors.Wrap(err, platformerrors.CodeNetwork, "cache: "+op)
}

// DeserializationError reports a stored payload that could not be decoded.
// Drivers recover from it locally and never return it from Get.
func DeserializationError(key string, err error) error {
	if err == nil {
		return nil
	}
	return platformerrors.Wrap(err, platformerrors.CodeSchemaFailed, "cache: decode value for key "+key)
}

// IsDeserialization reports whether err was produced by DeserializationError.
func IsDeserialization(err error) bool {
	return ErrorCode(err) == string(platformerrors.CodeSchemaFailed)
}

// ConfigError reports an unusable driver configuration.
func ConfigError(msg string) error {
	return platformerrors.New(platformerrors.CodeInvalidConfig, "cache: "+msg)
}

// ErrorCode extracts the structured code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var pe platformerrors.PlatformError
	if errors.As(err, &pe) {
		return string(pe.Code())
	}
	return ""
}

// Retryable reports whether err is classified as transient, such as a
// ConnectionError. Plain errors are treated as permanent.
func Retryable(err error) bool {
	return platformerrors.IsRetryable(err)
}
