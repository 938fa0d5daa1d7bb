// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		require.True(t, pattern.MatchString(name), "file %s should match NNNNNN_name.(up|down).sql", name)
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			ups[base] = true
		}
		if base, ok := strings.CutSuffix(name, ".down.sql"); ok {
			downs[base] = true
		}
	}

	assert.Equal(t, ups, downs, "every migration needs both directions")
	assert.True(t, ups["000001_identities"])
	assert.True(t, ups["000002_roles"])
}

func TestMigrationsFS_RolesDependOnIdentities(t *testing.T) {
	up, err := migrationsFS.ReadFile("migrations/000002_roles.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "REFERENCES identities (id) ON DELETE CASCADE")

	down, err := migrationsFS.ReadFile("migrations/000002_roles.down.sql")
	require.NoError(t, err)
	assert.Less(t,
		strings.Index(string(down), "identity_roles"),
		strings.Index(string(down), "TABLE IF EXISTS roles"),
		"join tables drop before roles")
}
