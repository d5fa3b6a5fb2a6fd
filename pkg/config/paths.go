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

// Package config locates chatmcp's data directory.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the data directory.
const DataDirEnv = "CHATMCP_DATA_DIR"

// GetDataDir returns the chatmcp data directory, which holds the config
// file and the session database.
//
// Priority:
// 1. CHATMCP_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.chatmcp (default)
//
// The returned path is always absolute. Tilde (~) is expanded to the user's
// home directory.
//
// Note: This function reads directly from os.Getenv(), not from viper, because
// it is needed to locate the config file itself.
func GetDataDir() string {
	if dataDir := os.Getenv(DataDirEnv); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".chatmcp"
	}
	return filepath.Join(homeDir, ".chatmcp")
}

// GetSubDir returns a subdirectory within the data directory.
// Example: GetSubDir("logs") returns ~/.chatmcp/logs
func GetSubDir(subdir string) string {
	return filepath.Join(GetDataDir(), subdir)
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
