package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/kms/kmstest"
)

func TestControllerRescanThroughLoop(t *testing.T) {
	useFakes(t, nil)
	dev := kmstest.New(0)
	hdmi := dev.AddConnector("HDMI-A", 1, kms.Disconnected, kmstest.Mode(1920, 1080))
	dev.AddCrtc()
	dev.AddPlane(kms.PlanePrimary, 0b1)

	comp, cleanup, err := buildCompositor(testConfig(), []kms.Device{dev})
	require.NoError(t, err)
	defer cleanup()

	ctrl := newController()
	defer ctrl.stop()
	l := newTestLoop(comp)
	l.requests = ctrl.requests

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.run(ctx) }()

	added, err := ctrl.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	// Hot plug is picked up by the requested rescan, not the hourly one
	dev.SetConnectorState(hdmi, kms.Connected)
	added, err = ctrl.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	cancel()
	require.NoError(t, <-done)

	stats := comp.Stats()
	require.Len(t, stats.Outputs, 1)
	assert.Equal(t, "card0-HDMI-A-1", string(stats.Outputs[0].ID))
}

func TestControllerStopped(t *testing.T) {
	ctrl := newController()
	ctrl.stop()
	ctrl.stop()

	_, err := ctrl.Rescan(context.Background())
	assert.ErrorIs(t, err, errLoopStopped)
}

func TestControllerRescanCancelled(t *testing.T) {
	ctrl := newController()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ctrl.Rescan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
