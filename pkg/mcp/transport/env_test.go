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

package transport

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/root", "API_KEY=old", "malformed", "=nokey"}
	got := MergeEnv(base, map[string]string{"API_KEY": "new", "POSTGRES_DATABASE": ""})

	assert.True(t, sort.StringsAreSorted(got))
	assert.Equal(t, []string{
		"API_KEY=new",
		"HOME=/root",
		"PATH=/usr/bin",
		"POSTGRES_DATABASE=",
	}, got)
}

func TestMergeEnv_ValueContainingEquals(t *testing.T) {
	got := MergeEnv([]string{"DSN=host=db user=app"}, nil)
	assert.Equal(t, []string{"DSN=host=db user=app"}, got)
}
