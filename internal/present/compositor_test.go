package present

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/output"
)

func TestCompositor(t *testing.T) {
	a, b := newCard(t), newCard(t)
	b.dev.Card = 1

	c := NewCompositor()
	assert.Equal(t, 0, c.AddDevice(a.dev, output.Deps{Allocator: a.alloc}))
	assert.Equal(t, 1, c.AddDevice(b.dev, output.Deps{Allocator: b.alloc}))
	assert.Equal(t, 2, c.Len())
	assert.Same(t, b.dev, c.Device(1))

	assert.Equal(t, 4, c.Rescan())

	hdmi := c.Pipeline(1).Outputs()[0]
	b.dev.QueuePageFlip(hdmi.Crtc)
	c.Tick()

	stats := c.Stats()
	assert.Equal(t, 2, stats.Devices)
	assert.Equal(t, uint64(1), stats.Frames)
	require.Len(t, stats.Outputs, 4)
	assert.Equal(t, output.Identity("card1-HDMI-A-1"), stats.Outputs[2].ID)
	assert.Equal(t, uint64(1), stats.Outputs[2].Flips)
	assert.Equal(t, StateAwaitingFlip, stats.Outputs[2].State)
}

func TestCompositorRecoversRefusedFlip(t *testing.T) {
	a := newCard(t)
	c := NewCompositor()
	c.AddDevice(a.dev, output.Deps{Allocator: a.alloc})
	require.Equal(t, 2, c.Rescan())
	hdmi := c.Pipeline(0).Outputs()[0]

	a.dev.FailCommit = func(kms.CommitFlags, []kms.AtomicProperty) error {
		return errors.New("EBUSY")
	}
	a.dev.QueuePageFlip(hdmi.Crtc)
	c.Tick()
	commits := len(a.dev.Commits)

	a.dev.FailCommit = nil
	c.Tick()

	require.Len(t, a.dev.Commits, commits+1)
	commit, _ := a.dev.LastCommit()
	assert.Equal(t, kms.FlipFlags, commit.Flags)

	stats := c.Stats()
	assert.Equal(t, StateAwaitingFlip, stats.Outputs[0].State)
	assert.Equal(t, uint64(1), stats.Outputs[0].Flips)
	assert.Equal(t, uint64(1), stats.Outputs[0].Dropped)

	// Later ticks wait for the page-flip event again
	c.Tick()
	assert.Len(t, a.dev.Commits, commits+1)
}

func TestCompositorStopsUnreadableDevice(t *testing.T) {
	a, b := newCard(t), newCard(t)
	b.dev.Card = 1

	c := NewCompositor()
	c.AddDevice(a.dev, output.Deps{Allocator: a.alloc})
	c.AddDevice(b.dev, output.Deps{Allocator: b.alloc})
	c.Rescan()

	a.dev.FailEvents = errors.New("EIO")
	c.Tick()

	assert.True(t, c.Running())
	assert.Empty(t, c.Pipeline(0).Outputs())
	assert.Empty(t, a.dev.LiveFramebuffers())
	assert.Len(t, c.Pipeline(1).Outputs(), 2)

	// A stopped device is not rescanned
	assert.Zero(t, c.Rescan())
	assert.Empty(t, c.Pipeline(0).Outputs())

	b.dev.FailEvents = errors.New("EIO")
	c.Tick()
	assert.False(t, c.Running())

	require.NoError(t, c.Close())
	assert.True(t, a.dev.Closed)
	assert.True(t, b.dev.Closed)
}

func TestCompositorSetLayout(t *testing.T) {
	a := newCard(t)
	c := NewCompositor()
	c.AddDevice(a.dev, output.Deps{Allocator: a.alloc})
	c.Rescan()

	c.SetLayout(hints{"card0-DP-1": {0, 0}, "card0-HDMI-A-1": {1, 0}})
	dp := c.Pipeline(0).Outputs()[1]
	x, _ := dp.Position()
	assert.Equal(t, int32(0), x)
	hdmi := c.Pipeline(0).Outputs()[0]
	x, _ = hdmi.Position()
	assert.Equal(t, int32(2560), x)
}
