package relayerr

import "errors"

var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrUnknownCommand       = errors.New("unknown command")
	ErrNoReachableTargets   = errors.New("no reachable targets")
	ErrProcessTimeout       = errors.New("process timed out")
	ErrProcessFailure       = errors.New("process failed")
	ErrNotAuthorized        = errors.New("chat not authorized")
	ErrUnhandledDispatch    = errors.New("unhandled dispatch error")
)
