// Package uploader runs the upload worker: one pending item at a time is
// claimed, sent to the hosting provider and recorded as uploaded, pending
// (retry) or failed.
package uploader
