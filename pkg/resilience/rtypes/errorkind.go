// Package rtypes holds the types shared across the resilience control
// plane's subpackages (error taxonomy, tiers, system modes) so that
// breaker, fallback, executor, health and mode can depend on a common
// vocabulary without importing each other or the top-level facade.
package rtypes

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrorKind is the closed taxonomy the core reasons about. Callers
// classify their own domain errors into one of these via a Classifier;
// the core never inspects a raised error's concrete type beyond this.
type ErrorKind int

const (
	// KindUnknown is what DefaultClassifier returns for a nil error; it
	// exists so a zero ErrorKind is recognizably invalid rather than
	// silently "Timeout".
	KindUnknown ErrorKind = iota
	KindTimeout
	KindNetwork
	KindRemoteUnavailable
	KindRemoteError
	KindRateLimited
	KindAuthFailed
	KindValidation
	KindNotFound
	KindCircuitOpen
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindRemoteUnavailable:
		return "remote_unavailable"
	case KindRemoteError:
		return "remote_error"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailed:
		return "auth_failed"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindCircuitOpen:
		return "circuit_open"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DefaultRetryable reports whether the kind is retryable under the
// default policy described by the error taxonomy. Callers may override
// this per-call via Options.IsRetryable.
func (k ErrorKind) DefaultRetryable() bool {
	switch k {
	case KindTimeout, KindNetwork, KindRemoteUnavailable, KindRemoteError, KindRateLimited:
		return true
	default:
		return false
	}
}

// BreakerObserved reports whether an outcome of this kind should be
// reported to the circuit breaker as a failure.
func (k ErrorKind) BreakerObserved() bool {
	switch k {
	case KindTimeout, KindNetwork, KindRemoteUnavailable, KindRemoteError, KindRateLimited, KindAuthFailed:
		return true
	default:
		return false
	}
}

// Classifier maps a raised error into the closed ErrorKind taxonomy.
// Implementations are supplied by callers; DefaultClassifier offers a
// reasonable default based on stdlib network/timeout/context errors.
type Classifier func(err error) ErrorKind

// DefaultClassifier checks context cancellation/deadline, net.DNSError,
// net.OpError (including its syscall cause), a timeout indicator in the
// error message or a Timeout() method, and a Temporary() method, in
// that order. Anything it cannot place becomes
// KindRemoteError, since most unclassified failures from a protected
// target are assumed to originate on the remote side.
func DefaultClassifier(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindNetwork
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) || errors.Is(opErr.Err, syscall.ENETUNREACH) {
			return KindRemoteUnavailable
		}
		if errors.Is(opErr.Err, syscall.ECONNRESET) {
			return KindNetwork
		}
		if opErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	if isTimeoutError(err) {
		return KindTimeout
	}

	type temporary interface{ Temporary() bool }
	if te, ok := err.(temporary); ok && te.Temporary() {
		return KindNetwork
	}

	return KindRemoteError
}

func isTimeoutError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "deadline exceeded", "i/o timeout"} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
