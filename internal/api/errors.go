package api

import "errors"

var (
	errIntegrityUnconfigured = errors.New("integrity scanner not configured")
	errUsageUnconfigured     = errors.New("provider usage collaborator not configured")
	errBusUnconfigured       = errors.New("signal bus not configured")
	errMissingRequestID      = errors.New("requestId query parameter is required")
	errStreamingUnsupported  = errors.New("response writer does not support streaming")
)
