package config

import "github.com/pingcap/errors"

// Configuration validation errors
var (
	ErrInvalidAppName = errors.Normalize(
		"invalid application name",
		errors.RFCCodeText("SNGO:ErrInvalidAppName"),
	)
	ErrInvalidEnvironment = errors.Normalize(
		"invalid environment %s",
		errors.RFCCodeText("SNGO:ErrInvalidEnvironment"),
	)
	ErrInvalidLogLevel = errors.Normalize(
		"invalid log level %s",
		errors.RFCCodeText("SNGO:ErrInvalidLogLevel"),
	)
	ErrInvalidLogFormat = errors.Normalize(
		"invalid log format %s",
		errors.RFCCodeText("SNGO:ErrInvalidLogFormat"),
	)
	ErrInvalidFrameSize = errors.Normalize(
		"invalid max frame size %d",
		errors.RFCCodeText("SNGO:ErrInvalidFrameSize"),
	)
	ErrInvalidBackoff = errors.Normalize(
		"invalid accept backoff, initial %s exceeds max %s",
		errors.RFCCodeText("SNGO:ErrInvalidBackoff"),
	)
	ErrInvalidMailboxSize = errors.Normalize(
		"invalid mailbox size %d",
		errors.RFCCodeText("SNGO:ErrInvalidMailboxSize"),
	)
)

// Configuration loading errors
var (
	ErrConfigFileNotFound = errors.Normalize(
		"configuration file not found",
		errors.RFCCodeText("SNGO:ErrConfigFileNotFound"),
	)
	ErrConfigParse = errors.Normalize(
		"parse %s configuration failed",
		errors.RFCCodeText("SNGO:ErrConfigParse"),
	)
	ErrUnsupportedFormat = errors.Normalize(
		"unsupported configuration format %s",
		errors.RFCCodeText("SNGO:ErrUnsupportedFormat"),
	)
	ErrEnvironmentVar = errors.Normalize(
		"invalid value %q for environment variable %s",
		errors.RFCCodeText("SNGO:ErrEnvironmentVar"),
	)
	ErrConfigWatch = errors.Normalize(
		"watch configuration file %s failed",
		errors.RFCCodeText("SNGO:ErrConfigWatch"),
	)
)
