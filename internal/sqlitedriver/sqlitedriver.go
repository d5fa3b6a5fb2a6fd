// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlitedriver registers a SQLite database/sql driver under the name
// "sqlite3". With CGO it uses go-sqlcipher, which supports encryption.
// Without CGO it falls back to the pure-Go modernc.org/sqlite driver, which
// does not.
//
// Open applies the pragmas chatmcp relies on; importing the package for its
// side effects alone is also supported:
//
//	import _ "github.com/teradata-labs/chatmcp/internal/sqlitedriver"
package sqlitedriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// DriverName is the name the driver is registered under.
const DriverName = "sqlite3"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrEncryptionUnsupported is returned when a key is given to a build
// without SQLCipher.
var ErrEncryptionUnsupported = errors.New("sqlite: encryption requires a cgo build")

// Open opens the database at path in WAL mode with a busy timeout. A
// non-empty key unlocks an encrypted database.
func Open(ctx context.Context, path, key string) (*sql.DB, error) {
	dsn := path
	if key != "" {
		var err error
		if dsn, err = keyDSN(path, key); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", strings.TrimSpace(strings.SplitN(p, "=", 2)[0]), err)
		}
	}
	return db, nil
}
