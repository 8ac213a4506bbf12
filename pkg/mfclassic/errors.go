package mfclassic

import (
	"errors"
	"fmt"
)

// Status word constants for PC/SC pseudo-APDU responses (ACR122-style readers).
const (
	SWSuccess          = 0x9000 // Operation complete
	SWOperationFailed  = 0x6300 // Authentication or block operation refused by the card
	SWWrongLength      = 0x6700 // Wrong Lc/Le
	SWSecurityNotSatis = 0x6982 // Block access not permitted under the current authentication
	SWNotSupported     = 0x6A81 // Function not supported by the reader
	SWWrongP1P2        = 0x6A86 // Block number out of range
)

// Error classes for failures that are not reader or link errors.
var (
	// ErrConfiguration reports a key chain that cannot cover the card or tag.
	// It is raised before any connection is opened.
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthentication reports that no candidate key opened a sector.
	ErrAuthentication = errors.New("authentication error")

	// ErrFormat reports malformed key-chain text, tag binary or geometry.
	ErrFormat = errors.New("format error")
)

// SWError represents a status word error from the reader.
type SWError struct {
	Cmd byte   // Pseudo-APDU INS byte
	SW  uint16 // Status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("reader command 0x%02X failed with SW=0x%04X (%s)", e.Cmd, e.SW, swDescription(e.SW))
}

func swDescription(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWOperationFailed:
		return "operation failed"
	case SWWrongLength:
		return "wrong length"
	case SWSecurityNotSatis:
		return "security not satisfied"
	case SWNotSupported:
		return "function not supported"
	case SWWrongP1P2:
		return "wrong P1/P2"
	default:
		return "unknown error"
	}
}

// AuthError carries the sector that could not be opened by either key.
type AuthError struct {
	Sector int
	Op     string // "read", "write"
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: sector %d rejected both keys", e.Op, e.Sector)
}

func (e *AuthError) Unwrap() error { return ErrAuthentication }

// SwOK checks if a status word indicates success.
func SwOK(sw uint16) bool {
	return sw == SWSuccess
}

// IsAuthError checks if an error is an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsConfigurationError checks if an error is a key-chain/card mismatch.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsFormatError checks if an error comes from parsing a key file, tag dump or geometry.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrFormat)
}

func formatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
