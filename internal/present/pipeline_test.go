package present

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/dreampipe/internal/gbm/gbmtest"
	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/kms/kmstest"
	"github.com/bnema/dreampipe/internal/output"
	"github.com/bnema/dreampipe/internal/swapchain"
)

type card struct {
	dev   *kmstest.Device
	alloc *gbmtest.Allocator
	hdmi  kms.ConnectorHandle
	dp    kms.ConnectorHandle
	crtcs []kms.CrtcHandle
}

// newCard builds two connected heads, three CRTCs, two primary planes and
// a single cursor plane
func newCard(t *testing.T) *card {
	t.Helper()
	c := &card{dev: kmstest.New(0), alloc: gbmtest.New()}
	c.hdmi = c.dev.AddConnector("HDMI-A", 1, kms.Connected, kmstest.Mode(1920, 1080))
	c.dp = c.dev.AddConnector("DP", 1, kms.Connected, kmstest.Mode(2560, 1440))
	for i := 0; i < 3; i++ {
		c.crtcs = append(c.crtcs, c.dev.AddCrtc())
	}
	c.dev.AddPlane(kms.PlanePrimary, 0b001)
	c.dev.AddPlane(kms.PlanePrimary, 0b010)
	c.dev.AddPlane(kms.PlaneCursor, 0b011)
	return c
}

func (c *card) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p := NewPipeline(c.dev, output.Deps{Allocator: c.alloc})
	n, err := p.Rescan()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	return p
}

func TestRescanAcquiresOutputs(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)

	outs := p.Outputs()
	require.Len(t, outs, 2)
	assert.NotNil(t, outs[0].Cursor)
	assert.Nil(t, outs[1].Cursor, "only one cursor plane exists")

	require.Len(t, c.dev.Commits, 2)
	for _, commit := range c.dev.Commits {
		assert.Equal(t, kms.ModesetFlags, commit.Flags)
	}
	for _, out := range outs {
		state, ok := p.State(out.ID)
		assert.True(t, ok)
		assert.Equal(t, StateCommitted, state)
	}

	// Without hints outputs sit side by side, ordered by identity
	x, y := outs[1].Position()
	assert.Equal(t, [2]int32{0, 0}, [2]int32{x, y})
	x, y = outs[0].Position()
	assert.Equal(t, [2]int32{2560, 0}, [2]int32{x, y})
}

func TestRescanIgnoresLiveOutputs(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	created := len(c.alloc.Created)
	commits := len(c.dev.Commits)

	n, err := p.Rescan()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, c.alloc.Created, created, "live outputs must not be reallocated")
	assert.Len(t, c.dev.Commits, commits)
	assert.Len(t, p.Outputs(), 2)
}

func TestTickWouldBlock(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	commits := len(c.dev.Commits)

	require.NoError(t, p.Tick())

	assert.Len(t, c.dev.Commits, commits, "no commit without an event")
	for _, out := range p.Outputs() {
		draw, scan := out.Primary.Buffers.Indices()
		assert.Equal(t, 0, draw)
		assert.Equal(t, 0, scan)
	}
	assert.Zero(t, p.Frames())
}

func TestTickPageFlip(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	hdmi, dp := p.Outputs()[0], p.Outputs()[1]

	c.dev.QueuePageFlip(hdmi.Crtc)
	require.NoError(t, p.Tick())

	commit, ok := c.dev.LastCommit()
	require.True(t, ok)
	assert.Equal(t, kms.FlipFlags, commit.Flags)
	fb, ok := commit.Value(uint32(hdmi.Primary.Plane), c.dev.Prop("FB_ID"))
	require.True(t, ok)
	assert.Equal(t, uint64(hdmi.Primary.Buffers.Slot(1).Framebuffer), fb)
	assert.Len(t, commit.Props, 1)

	draw, scan := hdmi.Primary.Buffers.Indices()
	assert.Equal(t, 1, draw)
	assert.Equal(t, 0, scan)

	// The other output did not see an event and stays put
	draw, _ = dp.Primary.Buffers.Indices()
	assert.Equal(t, 0, draw)
	state, _ := p.State(dp.ID)
	assert.Equal(t, StateCommitted, state)

	state, _ = p.State(hdmi.ID)
	assert.Equal(t, StateAwaitingFlip, state)
	assert.Equal(t, uint64(1), p.Frames())
}

func TestTickIgnoresOtherEvents(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	commits := len(c.dev.Commits)

	c.dev.QueueEvents(
		kms.Event{Kind: kms.EventVBlank, Crtc: c.crtcs[0], Sequence: 7},
		kms.Event{Kind: kms.EventUnknown},
		kms.Event{Kind: kms.EventPageFlip, Crtc: c.crtcs[2]},
	)
	require.NoError(t, p.Tick())

	assert.Len(t, c.dev.Commits, commits)
	for _, out := range p.Outputs() {
		draw, _ := out.Primary.Buffers.Indices()
		assert.Equal(t, 0, draw)
	}
}

func TestFlipFailureDisconnected(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	hdmi := p.Outputs()[0]
	hdmiFBs := hdmi.Framebuffers()
	require.Len(t, hdmiFBs, 2*swapchain.Slots)

	c.dev.FailCommit = func(flags kms.CommitFlags, _ []kms.AtomicProperty) error {
		return errors.New("ENODEV")
	}
	c.dev.SetConnectorState(c.hdmi, kms.Disconnected)
	c.dev.QueuePageFlip(hdmi.Crtc)

	require.NoError(t, p.Tick())

	require.Len(t, p.Outputs(), 1)
	assert.Equal(t, output.Identity("card0-DP-1"), p.Outputs()[0].ID)
	_, ok := p.State(hdmi.ID)
	assert.False(t, ok)

	// Every framebuffer added for the output has a matching destroy
	assert.ElementsMatch(t, hdmiFBs, c.dev.DestroyedFBs)
	for _, fb := range hdmiFBs {
		assert.NotContains(t, c.dev.LiveFramebuffers(), fb)
	}
	assert.Len(t, c.dev.LiveFramebuffers(), swapchain.Slots)
	assert.Len(t, c.dev.DestroyedBlobs, 1)
	assert.Equal(t, 1, c.dev.LiveBlobs())
}

func TestFlipFailureStillConnected(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	hdmi := p.Outputs()[0]

	c.dev.FailCommit = func(kms.CommitFlags, []kms.AtomicProperty) error {
		return errors.New("EBUSY")
	}
	c.dev.QueuePageFlip(hdmi.Crtc)
	require.NoError(t, p.Tick())

	assert.Len(t, p.Outputs(), 2)
	assert.Empty(t, c.dev.DestroyedFBs)
	state, ok := p.State(hdmi.ID)
	require.True(t, ok)
	assert.Equal(t, StateAdvanced, state)

	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, uint64(1), stats[0].Dropped)
	assert.Zero(t, stats[0].Flips)
}

func TestFlipRetriedAfterRefusal(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	hdmi := p.Outputs()[0]

	refuse := true
	c.dev.FailCommit = func(flags kms.CommitFlags, _ []kms.AtomicProperty) error {
		if refuse && flags == kms.FlipFlags {
			return errors.New("EBUSY")
		}
		return nil
	}
	c.dev.QueuePageFlip(hdmi.Crtc)
	require.NoError(t, p.Tick())
	commits := len(c.dev.Commits)
	draw, scan := hdmi.Primary.Buffers.Indices()
	require.Equal(t, [2]int{1, 0}, [2]int{draw, scan})

	// No event will come for the CRTC; a quiet tick still commits nothing
	require.NoError(t, p.Tick())
	assert.Len(t, c.dev.Commits, commits)

	// Still refused: the retry drops another frame and keeps the buffers
	assert.Equal(t, 1, p.RetryFlips())
	assert.Len(t, c.dev.Commits, commits)
	state, _ := p.State(hdmi.ID)
	assert.Equal(t, StateAdvanced, state)

	refuse = false
	assert.Equal(t, 1, p.RetryFlips())

	require.Len(t, c.dev.Commits, commits+1)
	commit, _ := c.dev.LastCommit()
	assert.Equal(t, kms.FlipFlags, commit.Flags)
	fb, ok := commit.Value(uint32(hdmi.Primary.Plane), c.dev.Prop("FB_ID"))
	require.True(t, ok)
	assert.Equal(t, uint64(hdmi.Primary.Buffers.Slot(1).Framebuffer), fb)

	draw, scan = hdmi.Primary.Buffers.Indices()
	assert.Equal(t, [2]int{1, 0}, [2]int{draw, scan}, "a retry does not advance")
	state, _ = p.State(hdmi.ID)
	assert.Equal(t, StateAwaitingFlip, state)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats[0].Dropped)
	assert.Equal(t, uint64(1), stats[0].Flips)
	assert.Equal(t, uint64(1), p.Frames())

	// Nothing left to retry
	assert.Zero(t, p.RetryFlips())
	assert.Len(t, c.dev.Commits, commits+1)
}

func TestFlipRetryTearsDownDisconnected(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	hdmi := p.Outputs()[0]

	c.dev.FailCommit = func(flags kms.CommitFlags, _ []kms.AtomicProperty) error {
		if flags == kms.FlipFlags {
			return errors.New("EBUSY")
		}
		return nil
	}
	c.dev.QueuePageFlip(hdmi.Crtc)
	require.NoError(t, p.Tick())
	require.Len(t, p.Outputs(), 2)

	c.dev.SetConnectorState(c.hdmi, kms.Disconnected)
	assert.Equal(t, 1, p.RetryFlips())

	require.Len(t, p.Outputs(), 1)
	_, ok := p.State(hdmi.ID)
	assert.False(t, ok)
}

func TestFlipFailureConnectorQueryError(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	hdmi := p.Outputs()[0]

	c.dev.FailCommit = func(kms.CommitFlags, []kms.AtomicProperty) error {
		return errors.New("EBUSY")
	}
	c.dev.FailConnector = errors.New("EIO")
	c.dev.QueuePageFlip(hdmi.Crtc)
	require.NoError(t, p.Tick())

	// An unanswered query is not a disconnect
	assert.Len(t, p.Outputs(), 2)
	assert.Empty(t, c.dev.DestroyedFBs)
	state, ok := p.State(hdmi.ID)
	require.True(t, ok)
	assert.Equal(t, StateAdvanced, state)
}

func TestReconnectAfterTeardown(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	hdmi := p.Outputs()[0]

	c.dev.FailCommit = func(flags kms.CommitFlags, _ []kms.AtomicProperty) error {
		if flags == kms.FlipFlags {
			return errors.New("ENODEV")
		}
		return nil
	}
	c.dev.SetConnectorState(c.hdmi, kms.Disconnected)
	c.dev.QueuePageFlip(hdmi.Crtc)
	require.NoError(t, p.Tick())
	require.Len(t, p.Outputs(), 1)

	c.dev.SetConnectorState(c.hdmi, kms.Connected)
	n, err := p.Rescan()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, p.Outputs(), 2)
}

func TestAcquireFailure(t *testing.T) {
	c := newCard(t)
	c.dev.FailCommit = func(kms.CommitFlags, []kms.AtomicProperty) error {
		return errors.New("EINVAL")
	}
	p := NewPipeline(c.dev, output.Deps{Allocator: c.alloc})

	n, err := p.Rescan()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, p.Outputs())
	assert.Empty(t, c.dev.LiveFramebuffers())
	assert.Zero(t, c.alloc.Live())
}

func TestAcquireWrapsCommitError(t *testing.T) {
	c := newCard(t)
	d, err := output.Discover(c.dev, output.Deps{Allocator: c.alloc}, nil)
	require.NoError(t, err)

	c.dev.FailCommit = func(kms.CommitFlags, []kms.AtomicProperty) error {
		return errors.New("EINVAL")
	}
	p := NewPipeline(c.dev, output.Deps{Allocator: c.alloc})
	err = p.Acquire(d.Outputs[0])
	assert.ErrorIs(t, err, kms.ErrCommit)
}

func TestTickReadError(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	c.dev.FailEvents = errors.New("EIO")

	assert.Error(t, p.Tick())
}

type hints map[string][2]int32

func (h hints) Placement(id string) (int32, int32, bool) {
	p, ok := h[id]
	return p[0], p[1], ok
}

func TestArrangeUsesHints(t *testing.T) {
	c := newCard(t)
	p := NewPipeline(c.dev, output.Deps{Allocator: c.alloc})
	// Put DP on top, HDMI below it
	p.SetLayout(hints{
		"card0-DP-1":     {0, 0},
		"card0-HDMI-A-1": {0, 1},
	})
	_, err := p.Rescan()
	require.NoError(t, err)

	hdmi, dp := p.Outputs()[0], p.Outputs()[1]
	x, y := dp.Position()
	assert.Equal(t, [2]int32{0, 0}, [2]int32{x, y})
	x, y = hdmi.Position()
	assert.Equal(t, [2]int32{0, 1440}, [2]int32{x, y})
}

func TestClose(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	p.Close()

	assert.Empty(t, p.Outputs())
	assert.Empty(t, c.dev.LiveFramebuffers())
	assert.Zero(t, c.alloc.Live())
}
