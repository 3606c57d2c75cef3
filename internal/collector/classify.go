package collector

import (
	"context"
	"errors"
	"net"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// errorClass decides whether a failed pod listing is worth another attempt.
type errorClass int

const (
	permanent errorClass = iota
	transient
	authFailure
)

// Credentials problems never heal within a scan.
var authMarkers = []string{
	"unauthorized",
	"forbidden",
	"you must be logged in",
	"certificate signed by unknown authority",
	"x509:",
	"token has expired",
	"exec plugin",
}

// Markers of a flaky API server or network path.
var transientMarkers = []string{
	"timeout",
	"eof",
	"http2: client connection lost",
	"the server is currently unable to handle the request",
	"broken pipe",
	"connection reset",
	"connection refused",
	"connection aborted",
	"connection closed",
	"use of closed network connection",
	"network is unreachable",
	"no route to host",
	"no such host",
}

// classify sorts a ListPods error. Typed API statuses win over message text.
func classify(err error) errorClass {
	if err == nil || errors.Is(err, context.Canceled) {
		return permanent
	}

	switch {
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return authFailure
	case apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err):
		return transient
	case apierrors.IsNotFound(err), apierrors.IsBadRequest(err), apierrors.IsInvalid(err):
		return permanent
	}

	text := strings.ToLower(err.Error())
	if containsAny(text, authMarkers) {
		return authFailure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transient
	}
	if containsAny(text, transientMarkers) {
		return transient
	}
	return permanent
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
