package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLevelSelection(t *testing.T) {
	tests := []struct {
		name         string
		opts         Options
		debugEnabled bool
		infoEnabled  bool
	}{
		{"default is info", Options{}, false, true},
		{"debug flag", Options{Debug: true}, true, true},
		{"verbose flag", Options{Verbose: true}, true, true},
		{"quiet wins over debug", Options{Quiet: true, Debug: true}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.debugEnabled, log.Core().Enabled(zap.DebugLevel))
			assert.Equal(t, tt.infoEnabled, log.Core().Enabled(zap.InfoLevel))
			assert.True(t, log.Core().Enabled(zap.ErrorLevel))
		})
	}
}

func TestFileTee(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tracker.log")
	log, err := New(Options{File: path})
	require.NoError(t, err)

	log.Info("collector started", zap.String("wallet", "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "collector started")
	assert.Contains(t, string(data), `"ts"`)
	assert.Contains(t, string(data), "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh")
}
