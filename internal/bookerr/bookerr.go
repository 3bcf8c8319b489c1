// Package bookerr centralizes the error taxonomy shared by the data-plane
// components: datalake, index, indexing, source, config, and the api layer
// wrap or classify failures against these sentinels instead of matching
// error strings.
package bookerr

import "errors"

// Sentinel errors for the taxonomy. Wrap with fmt.Errorf("...: %w", Err...)
// and unwrap with errors.Is / Classify.
var (
	ErrNotFound          = errors.New("not found")
	ErrHashMismatch      = errors.New("hash mismatch")
	ErrDuplicateIndexReq = errors.New("duplicate index request")
	ErrTransient         = errors.New("transient error")
	ErrFatal             = errors.New("fatal error")
	ErrHandlerFailure    = errors.New("handler failure")
)

// Kind identifies which taxonomy bucket an error falls into.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindHashMismatch
	KindDuplicate
	KindTransient
	KindFatal
	KindHandlerFailure
)

// Classify maps err onto a Kind by walking its wrap chain against the
// sentinels above. Errors that don't match any sentinel are KindUnknown,
// which callers should treat like KindTransient-adjacent-but-unconfirmed:
// log and move on, don't crash the process.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrHashMismatch):
		return KindHashMismatch
	case errors.Is(err, ErrDuplicateIndexReq):
		return KindDuplicate
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrHandlerFailure):
		return KindHandlerFailure
	default:
		return KindUnknown
	}
}

// Retryable reports whether the bus consumer should let the broker redeliver
// the message that produced err.
func Retryable(err error) bool {
	k := Classify(err)
	return k == KindTransient || k == KindHandlerFailure
}
