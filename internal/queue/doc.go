// Package queue defines the video queue domain: items, the status graph and
// the Store contract shared by the upload worker and the post scheduler.
package queue
