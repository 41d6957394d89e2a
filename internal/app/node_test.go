package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
)

func TestOpenWatchdogFallsBackToSoftTimer(t *testing.T) {
	cfg := &config.Config{WatchdogTimeoutS: 30}

	wd := openWatchdog(cfg, filepath.Join(t.TempDir(), "watchdog"))
	defer wd.Disarm()

	require.IsType(t, &watchdog.Soft{}, wd)
	wd.Feed()
}
