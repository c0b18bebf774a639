// Package status persists per-object transfer state in the uploads table.
//
// Every write from a transfer goes through Upsert, a single
// INSERT ... ON CONFLICT / ON DUPLICATE KEY UPDATE statement keyed on the
// object key, so repeated or concurrent writes converge on one row. The
// stored original URL is kept when a write does not carry one, and the
// retry counter is only changed by writes that set it explicitly.
//
// MySQL is the production backend; SQLite is supported for single-host
// deployments and tests.
package status
