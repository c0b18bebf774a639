// Package api exposes transfers over HTTP with gin.
//
// Public routes start transfers and report their status. The /admin group
// lists, retries and deletes transfers and is guarded by HTTP basic auth
// against a bcrypt password hash.
package api
