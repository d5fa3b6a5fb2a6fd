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

//go:build unix

package pool

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertGone(t *testing.T, pid int) {
	t.Helper()
	err := syscall.Kill(pid, 0)
	assert.True(t, errors.Is(err, syscall.ESRCH), "process %d is still running (kill -0: %v)", pid, err)
}

func assertAlive(t *testing.T, pid int) {
	t.Helper()
	assert.NoError(t, syscall.Kill(pid, 0), "process %d is not running", pid)
}
