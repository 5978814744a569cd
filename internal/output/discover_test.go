package output

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/dreampipe/internal/gbm/gbmtest"
	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/kms/kmstest"
	"github.com/bnema/dreampipe/internal/swapchain"
)

type fixture struct {
	dev     *kmstest.Device
	alloc   *gbmtest.Allocator
	conns   []kms.ConnectorHandle
	crtcs   []kms.CrtcHandle
	primary []kms.PlaneHandle
	cursor  kms.PlaneHandle
}

// twoHeads builds a card with two connected connectors, three CRTCs, a
// primary plane for each of the first two CRTCs and one cursor plane any
// CRTC can use
func twoHeads(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dev: kmstest.New(0), alloc: gbmtest.New()}
	f.conns = []kms.ConnectorHandle{
		f.dev.AddConnector("HDMI-A", 1, kms.Connected, kmstest.Mode(1920, 1080), kmstest.Mode(1280, 720)),
		f.dev.AddConnector("DP", 2, kms.Connected, kmstest.Mode(2560, 1440)),
	}
	for i := 0; i < 3; i++ {
		f.crtcs = append(f.crtcs, f.dev.AddCrtc())
	}
	f.primary = []kms.PlaneHandle{
		f.dev.AddPlane(kms.PlanePrimary, 0b001),
		f.dev.AddPlane(kms.PlanePrimary, 0b010),
	}
	f.cursor = f.dev.AddPlane(kms.PlaneCursor, 0b111)
	return f
}

func (f *fixture) deps() Deps {
	return Deps{Allocator: f.alloc}
}

func TestDiscoverTwoHeads(t *testing.T) {
	f := twoHeads(t)

	d, err := Discover(f.dev, f.deps(), nil)
	require.NoError(t, err)
	require.NoError(t, d.Failures)
	require.Len(t, d.Outputs, 2)

	assert.True(t, f.dev.Capabilities[kms.CapUniversalPlanes])
	assert.True(t, f.dev.Capabilities[kms.CapAtomic])

	hdmi, dp := d.Outputs[0], d.Outputs[1]
	assert.Equal(t, Identity("card0-HDMI-A-1"), hdmi.ID)
	assert.Equal(t, Identity("card0-DP-2"), dp.ID)

	assert.Equal(t, f.crtcs[0], hdmi.Crtc)
	assert.Equal(t, f.crtcs[1], dp.Crtc)
	assert.Equal(t, f.primary[0], hdmi.Primary.Plane)
	assert.Equal(t, f.primary[1], dp.Primary.Plane)

	// The single cursor plane goes to the first output only
	require.NotNil(t, hdmi.Cursor)
	assert.Equal(t, f.cursor, hdmi.Cursor.Plane)
	assert.Nil(t, dp.Cursor)

	// First mode is used
	w, h := hdmi.Size()
	assert.Equal(t, uint32(1920), w)
	assert.Equal(t, uint32(1080), h)
	assert.Equal(t, uint32(1920), hdmi.Primary.Width)
	assert.Equal(t, uint32(DefaultCursorSize), hdmi.Cursor.Width)

	// primary + cursor + primary, three buffers each
	assert.Len(t, f.dev.LiveFramebuffers(), 3*swapchain.Slots)
}

func TestDiscoverClaimsAreDisjoint(t *testing.T) {
	dev := kmstest.New(1)
	for i := uint32(1); i <= 3; i++ {
		dev.AddConnector("DP", i, kms.Connected, kmstest.Mode(1024, 768))
		dev.AddCrtc()
	}
	for i := 0; i < 3; i++ {
		dev.AddPlane(kms.PlanePrimary, 0b111)
		dev.AddPlane(kms.PlaneCursor, 0b111)
		dev.AddPlane(kms.PlaneOverlay, 0b111)
		dev.AddPlane(kms.PlaneOverlay, 0b111)
	}

	d, err := Discover(dev, Deps{Allocator: gbmtest.New(), Overlays: 2}, nil)
	require.NoError(t, err)
	require.Len(t, d.Outputs, 3)

	seen := map[kms.PlaneHandle]Identity{}
	for _, out := range d.Outputs {
		require.NotNil(t, out.Cursor)
		assert.Len(t, out.Overlays, 2)
		for _, c := range out.Chains() {
			owner, dup := seen[c.Plane]
			assert.False(t, dup, "plane %d claimed by %s and %s", c.Plane, owner, out.ID)
			seen[c.Plane] = out.ID
		}
	}
	assert.Len(t, seen, 12)
}

func TestDiscoverDeterministic(t *testing.T) {
	// PlaneHandles order is random; the pool sorts it
	for i := 0; i < 20; i++ {
		dev := kmstest.New(0)
		dev.AddConnector("eDP", 1, kms.Connected, kmstest.Mode(800, 600))
		dev.AddCrtc()
		first := dev.AddPlane(kms.PlanePrimary, 0b1)
		dev.AddPlane(kms.PlanePrimary, 0b1)
		dev.AddPlane(kms.PlanePrimary, 0b1)

		d, err := Discover(dev, Deps{Allocator: gbmtest.New()}, nil)
		require.NoError(t, err)
		require.Len(t, d.Outputs, 1)
		require.Equal(t, first, d.Outputs[0].Primary.Plane)
	}
}

func TestDiscoverIgnore(t *testing.T) {
	f := twoHeads(t)

	d, err := Discover(f.dev, f.deps(), map[Identity]bool{"card0-HDMI-A-1": true})
	require.NoError(t, err)
	require.Len(t, d.Outputs, 1)

	// The ignored connector does not hold a CRTC
	dp := d.Outputs[0]
	assert.Equal(t, Identity("card0-DP-2"), dp.ID)
	assert.Equal(t, f.crtcs[0], dp.Crtc)
	assert.Equal(t, f.primary[0], dp.Primary.Plane)
	// and the cursor plane is free for the remaining output
	require.NotNil(t, dp.Cursor)
	assert.Equal(t, f.cursor, dp.Cursor.Plane)
}

func TestDiscoverSkipsLiveResources(t *testing.T) {
	f := twoHeads(t)

	first, err := Discover(f.dev, f.deps(), map[Identity]bool{"card0-HDMI-A-1": true})
	require.NoError(t, err)
	require.Len(t, first.Outputs, 1)
	dp := first.Outputs[0]

	deps := f.deps()
	deps.Live = first.Outputs
	second, err := Discover(f.dev, deps, map[Identity]bool{dp.ID: true})
	require.NoError(t, err)
	require.Len(t, second.Outputs, 1)

	hdmi := second.Outputs[0]
	assert.Equal(t, Identity("card0-HDMI-A-1"), hdmi.ID)
	assert.NotEqual(t, dp.Crtc, hdmi.Crtc)
	assert.Equal(t, f.crtcs[1], hdmi.Crtc)
	assert.Equal(t, f.primary[1], hdmi.Primary.Plane)
	assert.Nil(t, hdmi.Cursor, "the only cursor plane is held by the live output")
}

func TestDiscoverSkipsUnqualifiedConnectors(t *testing.T) {
	dev := kmstest.New(0)
	dev.AddConnector("HDMI-A", 1, kms.Disconnected, kmstest.Mode(1920, 1080))
	dev.AddConnector("HDMI-A", 2, kms.Connected)
	dev.AddCrtc()
	dev.AddPlane(kms.PlanePrimary, 0b1)

	d, err := Discover(dev, Deps{Allocator: gbmtest.New()}, nil)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrNoQualifiedConnectors)
}

func TestDiscoverNoPrimaryPlane(t *testing.T) {
	f := twoHeads(t)
	// A third connector lands on the third CRTC, which has no primary plane
	f.dev.AddConnector("DP", 3, kms.Connected, kmstest.Mode(1920, 1200))

	d, err := Discover(f.dev, f.deps(), nil)
	require.NoError(t, err)
	assert.Len(t, d.Outputs, 2)
	require.Error(t, d.Failures)
	assert.ErrorIs(t, d.Failures, ErrNoCompatiblePrimaryPlane)
	assert.Contains(t, d.Failures.Error(), "card0-DP-3")
}

func TestDiscoverAllocationFailureReleasesOutput(t *testing.T) {
	f := twoHeads(t)
	// Fail the first buffer of the second output's primary chain
	f.alloc.FailAfter = 6

	d, err := Discover(f.dev, f.deps(), nil)
	require.NoError(t, err)
	require.Len(t, d.Outputs, 1)
	assert.Error(t, d.Failures)

	// Only the first output's primary and cursor buffers stay alive
	assert.Equal(t, 6, f.alloc.Live())
	assert.Len(t, f.dev.LiveFramebuffers(), 6)
}

func TestDiscoverCapabilityFailure(t *testing.T) {
	f := twoHeads(t)
	f.dev.FailCapability = errors.New("permission denied")

	_, err := Discover(f.dev, f.deps(), nil)
	assert.ErrorIs(t, err, kms.ErrClientCapability)
}

func TestProbe(t *testing.T) {
	f := twoHeads(t)
	f.dev.AddConnector("VGA", 1, kms.Disconnected)

	conns, err := Probe(f.dev)
	require.NoError(t, err)
	require.Len(t, conns, 3)

	assert.Equal(t, Identity("card0-HDMI-A-1"), conns[0].ID)
	assert.True(t, conns[0].Qualified)
	assert.Len(t, conns[0].Modes, 2)
	assert.Equal(t, Identity("card0-VGA-1"), conns[2].ID)
	assert.False(t, conns[2].Qualified)

	assert.Empty(t, f.dev.Capabilities, "probe must not change device state")
	assert.Zero(t, f.alloc.Live())
}
