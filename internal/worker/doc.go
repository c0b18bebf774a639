// Package worker runs a single transfer: download a remote file, upload it
// to the object store, verify the stored size and record every step in the
// status table.
//
// A worker owns the status row for its key while it runs. Intermediate
// steps are written as pending with a human readable message; the run ends
// with exactly one completed or failed write.
package worker
