//go:build sqlite_vec && cgo

package rag

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Registers the sqlite-vec extension as an auto-loadable extension for
// every connection opened through the mattn/go-sqlite3 driver.
func init() {
	vec.Auto()
}
