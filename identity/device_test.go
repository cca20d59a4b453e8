package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIDStableAcrossCalls(t *testing.T) {
	d := NewDeviceID(t.TempDir(), nil)
	ctx := context.Background()

	first, err := d.Get(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := d.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDeviceIDStableAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewDeviceID(dir, nil).Get(ctx)
	require.NoError(t, err)

	second, err := NewDeviceID(dir, nil).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDeviceIDPrefersPlatformSource(t *testing.T) {
	d := NewDeviceID(t.TempDir(), func() (string, bool) {
		return "platform-serial-42", true
	})

	id, err := d.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "platform-serial-42", id)
}

func TestDeviceIDFallsBackToRandom(t *testing.T) {
	d := NewDeviceID(t.TempDir(), func() (string, bool) {
		return "", false
	})

	id, err := d.Get(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestDeviceIDReset(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	d := NewDeviceID(dir, nil)

	first, err := d.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Reset())

	second, err := d.Get(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
