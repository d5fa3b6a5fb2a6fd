//go:build !cgo

package sqlitedriver

import (
	"database/sql"

	"modernc.org/sqlite"
)

func init() {
	sql.Register(DriverName, &sqlite.Driver{})
}

// EncryptionSupported reports whether Open accepts a key. False when built
// without CGO.
const EncryptionSupported = false

func keyDSN(string, string) (string, error) {
	return "", ErrEncryptionUnsupported
}
