package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWatcherNilWhenNoConfigFile(t *testing.T) {
	cfg := &Config{}
	w, err := NewWatcher(cfg, nil)
	require.NoError(t, err)
	require.Nil(t, w)
}
