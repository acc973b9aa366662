package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "vicinity/pkg/domain-errors"
)

func TestParseDeviceID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseDeviceID("")
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	t.Run("rejects whitespace-only string", func(t *testing.T) {
		_, err := ParseDeviceID("   ")
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	t.Run("rejects oversized value", func(t *testing.T) {
		_, err := ParseDeviceID(strings.Repeat("a", 129))
		require.Error(t, err)
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		got, err := ParseDeviceID("  device-1  ")
		require.NoError(t, err)
		assert.Equal(t, DeviceID("device-1"), got)
		assert.False(t, got.IsNil())
	})

	t.Run("accepts value at the length limit", func(t *testing.T) {
		_, err := ParseDeviceID(strings.Repeat("a", 128))
		require.NoError(t, err)
	})
}

func TestParseZoneID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseZoneID("")
		require.Error(t, err)
	})

	t.Run("rejects oversized value", func(t *testing.T) {
		_, err := ParseZoneID(strings.Repeat("z", 65))
		require.Error(t, err)
	})

	t.Run("accepts plain zone", func(t *testing.T) {
		got, err := ParseZoneID("zone-17")
		require.NoError(t, err)
		assert.Equal(t, "zone-17", got.String())
	})
}

func TestParseGeocell(t *testing.T) {
	t.Run("empty means absent, not invalid", func(t *testing.T) {
		got, err := ParseGeocell("")
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("rejects oversized value", func(t *testing.T) {
		_, err := ParseGeocell(strings.Repeat("a", 33))
		require.Error(t, err)
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		got, err := ParseGeocell(" aaaa1111 ")
		require.NoError(t, err)
		assert.Equal(t, Geocell("aaaa1111"), got)
	})
}
