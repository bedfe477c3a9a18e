package bootstrap

import "github.com/pingcap/errors"

// Lifecycle errors
var (
	ErrInvalidService = errors.Normalize(
		"invalid service %q",
		errors.RFCCodeText("SNGO:ErrInvalidService"),
	)
	ErrServiceRegistered = errors.Normalize(
		"service %s is already registered",
		errors.RFCCodeText("SNGO:ErrServiceRegistered"),
	)
	ErrDependencyMissing = errors.Normalize(
		"dependency %s of service %s is not registered",
		errors.RFCCodeText("SNGO:ErrDependencyMissing"),
	)
	ErrCircularDependency = errors.Normalize(
		"circular dependency between services",
		errors.RFCCodeText("SNGO:ErrCircularDependency"),
	)
	ErrServiceStart = errors.Normalize(
		"start service %s failed",
		errors.RFCCodeText("SNGO:ErrServiceStart"),
	)
	ErrLifecycleState = errors.Normalize(
		"lifecycle manager is %s",
		errors.RFCCodeText("SNGO:ErrLifecycleState"),
	)
)
