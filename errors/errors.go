// Package errors defines the coded errors shared by the sngo runtime and
// its transports. Callers import it as cerrors.
package errors

import (
	"github.com/pingcap/errors"
)

// transport errors
var (
	ErrBindFailure = errors.Normalize(
		"bind tcp listener to %s failed",
		errors.RFCCodeText("SNGO:ErrBindFailure"),
	)
	ErrAcceptFailure = errors.Normalize(
		"accept on tcp listener %s failed",
		errors.RFCCodeText("SNGO:ErrAcceptFailure"),
	)
	ErrPeerAddress = errors.Normalize(
		"accepted stream has no usable peer address",
		errors.RFCCodeText("SNGO:ErrPeerAddress"),
	)
	ErrHandleClone = errors.Normalize(
		"clone tcp router handle failed",
		errors.RFCCodeText("SNGO:ErrHandleClone"),
	)
	ErrRegistration = errors.Normalize(
		"register connection to peer %s failed, %s",
		errors.RFCCodeText("SNGO:ErrRegistration"),
	)
	ErrDialFailure = errors.Normalize(
		"dial tcp peer %s failed",
		errors.RFCCodeText("SNGO:ErrDialFailure"),
	)
	ErrFrameTooLarge = errors.Normalize(
		"transport frame of %d bytes exceeds limit %d",
		errors.RFCCodeText("SNGO:ErrFrameTooLarge"),
	)
	ErrFrameMalformed = errors.Normalize(
		"malformed transport frame, %s",
		errors.RFCCodeText("SNGO:ErrFrameMalformed"),
	)
)

// actor runtime errors
var (
	ErrAddressInUse = errors.Normalize(
		"address %s is already in use",
		errors.RFCCodeText("SNGO:ErrAddressInUse"),
	)
	ErrAddressNotFound = errors.Normalize(
		"no mailbox at address %s",
		errors.RFCCodeText("SNGO:ErrAddressNotFound"),
	)
	ErrNodeShutdown = errors.Normalize(
		"node is shutting down",
		errors.RFCCodeText("SNGO:ErrNodeShutdown"),
	)
	ErrClusterAlreadySet = errors.Normalize(
		"actor %s already belongs to cluster %s",
		errors.RFCCodeText("SNGO:ErrClusterAlreadySet"),
	)
	ErrInvalidRoute = errors.Normalize(
		"invalid route, %s",
		errors.RFCCodeText("SNGO:ErrInvalidRoute"),
	)
	ErrNotOwner = errors.Normalize(
		"address %s is not owned by the sending actor",
		errors.RFCCodeText("SNGO:ErrNotOwner"),
	)
	ErrNoRouter = errors.Normalize(
		"no router registered for transport %d",
		errors.RFCCodeText("SNGO:ErrNoRouter"),
	)
	ErrContextStopped = errors.Normalize(
		"context %s is stopped",
		errors.RFCCodeText("SNGO:ErrContextStopped"),
	)
)

// Is reports whether err, or any error it wraps, carries the RFC code of
// target. It walks both Unwrap and Cause chains one step at a time so that
// errors built with target.Wrap(cause) still match target.
func Is(err error, target *errors.Error) bool {
	for i := 0; err != nil && i < 64; i++ {
		if e, ok := err.(*errors.Error); ok && e.RFCCode() == target.RFCCode() {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Cause() error }:
			err = x.Cause()
		default:
			return false
		}
	}
	return false
}
