package gossiptype

import "errors"

// Error kinds, named per spec.md §7. Per-kind sentinel errors so callers
// can `errors.Is` without string matching; subtypes that need extra data
// (RelayRejected(msg), Deletes{by,reason}, Zaps{by,amount}, Network
// subtypes) are their own wrapping types below.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidHash      = errors.New("invalid hash")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrNoPrivateKey     = errors.New("no private key")
	ErrWrongPassphrase  = errors.New("wrong passphrase")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrStorageCorruption = errors.New("storage corruption")
	ErrStorageFull      = errors.New("storage full")
	ErrRelayAuthRequired = errors.New("relay requires authentication")
	ErrRelayAuthFailed  = errors.New("relay authentication failed")
	ErrNotFound         = errors.New("not found")
	ErrParseError       = errors.New("parse error")
	ErrUrlError         = errors.New("invalid relay url")
	ErrSeekTimedOut     = errors.New("seek deadline exceeded")
)

// NetworkErrorKind distinguishes the Network error subtypes of spec.md §7.
type NetworkErrorKind int

const (
	NetTimeout NetworkErrorKind = iota
	NetClosed
	NetTlsError
	NetDnsError
	NetHttpStatus
)

func (k NetworkErrorKind) String() string {
	switch k {
	case NetTimeout:
		return "timeout"
	case NetClosed:
		return "closed"
	case NetTlsError:
		return "tls-error"
	case NetDnsError:
		return "dns-error"
	case NetHttpStatus:
		return "http-status"
	default:
		return "unknown"
	}
}

// NetworkError wraps one of the above subtypes with the underlying cause.
type NetworkError struct {
	Kind NetworkErrorKind
	Err  error
}

func (e *NetworkError) Error() string { return "network " + e.Kind.String() + ": " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// RelayRejectedError carries the relay's rejection message verbatim.
type RelayRejectedError struct{ Msg string }

func (e *RelayRejectedError) Error() string { return "relay rejected: " + e.Msg }
