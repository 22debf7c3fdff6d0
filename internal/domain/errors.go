package domain

import "errors"

var (
	// ErrAuth means the source credential was rejected. Fatal for the run.
	ErrAuth = errors.New("source authentication failed")
	// ErrNotFound means the gallery was removed or never existed.
	ErrNotFound = errors.New("gallery not found")
	// ErrAuthExpired means the source redirected a request to its login flow.
	ErrAuthExpired = errors.New("source session expired")
	// ErrParse means a response lacked the expected document structure.
	ErrParse = errors.New("unexpected source document")
	// ErrTransient covers timeouts, 5xx and rate-limit responses.
	ErrTransient = errors.New("transient network error")
	// ErrHotlinkBroken means every image URL tier failed for a page.
	ErrHotlinkBroken = errors.New("image hotlink broken")
	// ErrLedger wraps persistence failures.
	ErrLedger = errors.New("ledger failure")
	// ErrInvalidImage means a payload is an error body rather than an image.
	ErrInvalidImage = errors.New("payload is not an image")
)
