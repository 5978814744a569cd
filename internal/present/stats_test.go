package present

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateText(t *testing.T) {
	for s := StateAcquired; s <= StateTornDown; s++ {
		t.Run(s.String(), func(t *testing.T) {
			text, err := s.MarshalText()
			require.NoError(t, err)

			var got State
			require.NoError(t, got.UnmarshalText(text))
			assert.Equal(t, s, got)
		})
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("flipping")))
}

func TestStatsJSON(t *testing.T) {
	c := newCard(t)
	p := c.pipeline(t)
	c.dev.QueuePageFlip(p.Outputs()[0].Crtc)
	require.NoError(t, p.Tick())

	data, err := json.Marshal(Stats{Devices: 1, Frames: p.Frames(), Outputs: p.Stats()})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"awaiting-flip"`)
	assert.Contains(t, string(data), `"state":"committed"`)
	assert.Contains(t, string(data), `"frames":1`)
}
