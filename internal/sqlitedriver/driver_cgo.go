//go:build cgo

package sqlitedriver

import (
	"net/url"
	"strings"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers "sqlite3" with encryption
)

// EncryptionSupported reports whether Open accepts a key. True when built
// with CGO.
const EncryptionSupported = true

// keyDSN appends the key as a DSN parameter. go-sqlcipher runs it as
// "PRAGMA key = <value>" on every new connection before anything else, so
// the value is a quoted SQL string.
func keyDSN(path, key string) (string, error) {
	quoted := "'" + strings.ReplaceAll(key, "'", "''") + "'"
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma_key=" + url.QueryEscape(quoted), nil
}
