// Package database provides the connection pool for the optional status
// history store.
package database
