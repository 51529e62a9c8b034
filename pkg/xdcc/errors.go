package xdcc

import (
	"errors"

	"github.com/jgoldverg/xdccget/pkg/ircwire"
)

var (
	// ErrConnection covers connect and I/O failures on either socket.
	ErrConnection = errors.New("connection error")
	// ErrProtocolTimeout is returned when the login or inactivity watchdog fires.
	ErrProtocolTimeout = errors.New("protocol timeout")
	// ErrOversizedMessage is the framer guard tripping on the control socket.
	ErrOversizedMessage = ircwire.ErrOversizedMessage
	// ErrParseFailure marks a DCC line that could not be decoded. Recoverable.
	ErrParseFailure = ircwire.ErrParseFailure
	// ErrTransfer is a single worker's failure. It never aborts the session.
	ErrTransfer = errors.New("transfer failed")
	// ErrUserCancelled is returned once the cancellation signal was observed.
	ErrUserCancelled = errors.New("cancelled by user")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid session config")
)
