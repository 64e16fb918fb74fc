// Package poster publishes uploaded videos to the broadcast channel in
// bounded batches, on a schedule or on demand.
package poster
