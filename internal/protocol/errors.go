package protocol

import "errors"

var (
	ErrShortPacket    = errors.New("protocol: packet too short")
	ErrUnknownCommand = errors.New("protocol: unknown command")
	ErrStringTooLong  = errors.New("protocol: string too long")
)

// AccessDeniedCode is the reason byte of TOCLIENT_ACCESS_DENIED.
type AccessDeniedCode uint8

const (
	DenyWrongPassword AccessDeniedCode = iota
	DenyUnexpectedData
	DenySingleplayer
	DenyWrongVersion
	DenyWrongCharsInName
	DenyWrongName
	DenyTooManyUsers
	DenyEmptyPassword
	DenyAlreadyConnected
	DenyServerFail
	DenyCustomString
	DenyShutdown
	DenyCrash

	denyCodeCount
)

var denyReasons = [denyCodeCount]string{
	DenyWrongPassword:    "Invalid password",
	DenyUnexpectedData:   "Your client sent something the server didn't expect. Try reconnecting or updating your client.",
	DenySingleplayer:     "The server is running in simple singleplayer mode. You cannot connect.",
	DenyWrongVersion:     "Your client's version is not supported.\nPlease contact the server administrator.",
	DenyWrongCharsInName: "Player name contains disallowed characters",
	DenyWrongName:        "Player name not allowed",
	DenyTooManyUsers:     "Too many users",
	DenyEmptyPassword:    "Empty passwords are disallowed. Set a password and try again.",
	DenyAlreadyConnected: "Another client is connected with this name. If your client closed unexpectedly, try again in a minute.",
	DenyServerFail:       "Internal server error",
	DenyCustomString:     "",
	DenyShutdown:         "Server shutting down",
	DenyCrash:            "The server has experienced an internal error. You will now be disconnected.",
}

// IsKnownDenyCode reports whether c is a defined access-denied code.
func IsKnownDenyCode(c AccessDeniedCode) bool { return c < denyCodeCount }

// DefaultReason is the built-in message shown for code c.
func (c AccessDeniedCode) DefaultReason() string {
	if !IsKnownDenyCode(c) {
		return ""
	}
	return denyReasons[c]
}

// CarriesReason reports whether the packet for code c includes a reason
// string.
func (c AccessDeniedCode) CarriesReason() bool {
	return c == DenyCustomString || c == DenyShutdown || c == DenyCrash
}

// CarriesReconnect reports whether the packet for code c includes the
// reconnect flag.
func (c AccessDeniedCode) CarriesReconnect() bool {
	return c == DenyShutdown || c == DenyCrash
}
