package sessions

import "errors"

var (
	// ErrInvalidToken: the presented refresh token is unknown.
	ErrInvalidToken = errors.New("invalid refresh token")
	// ErrTokenReuseDetected: an already revoked token was presented again.
	// Every active session of the identity has been revoked.
	ErrTokenReuseDetected  = errors.New("refresh token reuse detected")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrDeviceMismatch is only returned with strict device binding.
	ErrDeviceMismatch = errors.New("refresh token presented from a different device")
	// ErrActiveDeviceSession is returned by Repository.Create when another
	// unrevoked session already holds the (user, device) slot.
	ErrActiveDeviceSession = errors.New("device already has an active session")
)
