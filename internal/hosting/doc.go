// Package hosting is the LuluStream API client.
//
// Uploads return (Result, error). Errors are *Error values classified as
// network, rejected or malformed; match them with errors.Is against
// ErrNetwork, ErrRejected and ErrMalformed.
package hosting
