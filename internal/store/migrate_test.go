// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

var errClosed = errors.New("migrate: closed")

// scriptedMigrate returns canned results and fails every call once closed,
// as golang-migrate does after releasing its handles.
type scriptedMigrate struct {
	err            error
	version        uint
	dirty          bool
	versionErr     error
	closeSourceErr error
	closeDBErr     error
	closed         bool
}

func (m *scriptedMigrate) call() error {
	if m.closed {
		return errClosed
	}
	return m.err
}

func (m *scriptedMigrate) Up() error         { return m.call() }
func (m *scriptedMigrate) Down() error       { return m.call() }
func (m *scriptedMigrate) Steps(_ int) error { return m.call() }
func (m *scriptedMigrate) Force(_ int) error { return m.call() }

func (m *scriptedMigrate) Version() (uint, bool, error) {
	if m.closed {
		return 0, false, errClosed
	}
	return m.version, m.dirty, m.versionErr
}

func (m *scriptedMigrate) Close() (error, error) {
	m.closed = true
	return m.closeSourceErr, m.closeDBErr
}

func TestNewMigrator_RejectsUnknownScheme(t *testing.T) {
	_, err := NewMigrator("invalid://url")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestNewMigrator_AcceptsPostgresqlScheme(t *testing.T) {
	// Nothing listens on port 1, so the driver is found but cannot connect.
	_, err := NewMigrator("postgresql://localhost:1/gatekeeper")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	assert.NotContains(t, err.Error(), "unknown driver")
}

func TestMigrator_Operations(t *testing.T) {
	ops := []struct {
		name string
		code string
		call func(*Migrator) error
	}{
		{"up", "MIGRATION_UP_FAILED", (*Migrator).Up},
		{"down", "MIGRATION_DOWN_FAILED", (*Migrator).Down},
		{"steps", "MIGRATION_STEPS_FAILED", func(m *Migrator) error { return m.Steps(2) }},
		{"force", "MIGRATION_FORCE_FAILED", func(m *Migrator) error { return m.Force(1) }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			require.NoError(t, op.call(&Migrator{m: &scriptedMigrate{}}))

			if op.name != "force" {
				err := op.call(&Migrator{m: &scriptedMigrate{err: migrate.ErrNoChange}})
				require.NoError(t, err, "no change is success")
			}

			err := op.call(&Migrator{m: &scriptedMigrate{err: errors.New("database is locked")}})
			errutil.AssertErrorCode(t, err, op.code)
		})
	}
}

func TestMigrator_StepsZeroIsNoOp(t *testing.T) {
	m := &Migrator{m: &scriptedMigrate{err: errors.New("must not be called")}}
	require.NoError(t, m.Steps(0))
}

func TestMigrator_ForceRejectsNegativeVersion(t *testing.T) {
	m := &Migrator{m: &scriptedMigrate{}}
	errutil.AssertErrorCode(t, m.Force(-1), "INVALID_VERSION")
}

func TestMigrator_Version(t *testing.T) {
	tests := []struct {
		name      string
		mock      *scriptedMigrate
		wantVer   uint
		wantDirty bool
		wantCode  string
	}{
		{name: "clean", mock: &scriptedMigrate{version: 2}, wantVer: 2},
		{name: "dirty", mock: &scriptedMigrate{version: 1, dirty: true}, wantVer: 1, wantDirty: true},
		{name: "fresh database", mock: &scriptedMigrate{versionErr: migrate.ErrNilVersion}},
		{name: "failure", mock: &scriptedMigrate{versionErr: errors.New("connection lost")}, wantCode: "MIGRATION_VERSION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, dirty, err := (&Migrator{m: tt.mock}).Version()
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVer, version)
			assert.Equal(t, tt.wantDirty, dirty)
		})
	}
}

func TestMigrator_Close(t *testing.T) {
	sourceErr := errors.New("source close failed")
	dbErr := errors.New("db close failed")

	tests := []struct {
		name      string
		mock      *scriptedMigrate
		component string
	}{
		{name: "clean", mock: &scriptedMigrate{}},
		{name: "source", mock: &scriptedMigrate{closeSourceErr: sourceErr}, component: "source"},
		{name: "database", mock: &scriptedMigrate{closeDBErr: dbErr}, component: "database"},
		{name: "both", mock: &scriptedMigrate{closeSourceErr: sourceErr, closeDBErr: dbErr}, component: "both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Migrator{m: tt.mock}).Close()
			if tt.component == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
		})
	}
}

func TestMigrator_PendingAndApplied(t *testing.T) {
	tests := []struct {
		name    string
		mock    *scriptedMigrate
		pending []uint
		applied []uint
	}{
		{"fresh database", &scriptedMigrate{versionErr: migrate.ErrNilVersion}, []uint{1, 2}, nil},
		{"identities only", &scriptedMigrate{version: 1}, []uint{2}, []uint{1}},
		{"at latest", &scriptedMigrate{version: 2}, []uint{}, []uint{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: tt.mock}

			pending, err := m.PendingMigrations()
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.pending, pending)

			applied, err := m.AppliedMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.applied, applied)
		})
	}

	t.Run("version failure", func(t *testing.T) {
		m := &Migrator{m: &scriptedMigrate{versionErr: errors.New("connection lost")}}

		_, err := m.PendingMigrations()
		errutil.AssertErrorContext(t, err, "operation", "get pending migrations")

		_, err = m.AppliedMigrations()
		errutil.AssertErrorContext(t, err, "operation", "get applied migrations")
	})
}

func TestMigrator_Status(t *testing.T) {
	t.Run("reports name and pending", func(t *testing.T) {
		st, err := (&Migrator{m: &scriptedMigrate{version: 1, dirty: true}}).Status()
		require.NoError(t, err)
		assert.Equal(t, Status{Version: 1, Name: "000001_identities", Dirty: true, Pending: []uint{2}}, st)
	})

	t.Run("fresh database has no name", func(t *testing.T) {
		st, err := (&Migrator{m: &scriptedMigrate{versionErr: migrate.ErrNilVersion}}).Status()
		require.NoError(t, err)
		assert.Zero(t, st.Version)
		assert.Empty(t, st.Name)
		assert.Equal(t, []uint{1, 2}, st.Pending)
	})

	t.Run("version error", func(t *testing.T) {
		_, err := (&Migrator{m: &scriptedMigrate{versionErr: errors.New("down")}}).Status()
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_CallsAfterCloseFail(t *testing.T) {
	m := &Migrator{m: &scriptedMigrate{}}
	require.NoError(t, m.Close())

	assert.Error(t, m.Up())
	assert.Error(t, m.Down())
	assert.Error(t, m.Steps(1))
	assert.Error(t, m.Force(1))
	_, _, err := m.Version()
	assert.Error(t, err)
	_, err = m.PendingMigrations()
	assert.Error(t, err)
	_, err = m.AppliedMigrations()
	assert.Error(t, err)
}

func TestPgx5URL(t *testing.T) {
	for _, in := range []string{"postgres://u@h/db", "postgresql://u@h/db", "pgx5://u@h/db"} {
		assert.Equal(t, "pgx5://u@h/db", pgx5URL(in), in)
	}
}

func TestMigrationName(t *testing.T) {
	for version, want := range map[uint]string{1: "000001_identities", 2: "000002_roles", 999: ""} {
		name, err := MigrationName(version)
		require.NoError(t, err)
		assert.Equal(t, want, name)
	}
}

func TestAllMigrationVersions_ReturnsCopy(t *testing.T) {
	first, err := allMigrationVersions()
	require.NoError(t, err)
	require.NotEmpty(t, first)
	want := first[0]
	first[0] = 99999

	second, err := allMigrationVersions()
	require.NoError(t, err)
	assert.Equal(t, want, second[0])
}
