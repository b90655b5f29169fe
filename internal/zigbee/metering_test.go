package zigbee

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMeteringChannel(t *testing.T, radio *fakeRadio) *MeteringChannel {
	t.Helper()
	registry := NewClusterRegistry()
	def, ok := registry.Get(ClusterMetering)
	require.True(t, ok)
	return NewMeteringChannel(radio, "00:11", 1, def, logrus.New())
}

func TestMeteringDefaults(t *testing.T) {
	radio := newFakeRadio()
	ch := newTestMeteringChannel(t, radio)

	// No formatting attributes read yet: neutral scaling, unknown unit.
	assert.Equal(t, 42.0, ch.Scale(42))
	assert.Equal(t, "unknown", ch.Unit())
}

func TestMeteringInitializeFetchesFormatting(t *testing.T) {
	radio := newFakeRadio()
	radio.setReadResult("00:11", 1, ClusterMetering, map[uint16]interface{}{
		AttrMeteringDivisor:          uint32(1000),
		AttrMeteringMultiplier:       uint32(1),
		AttrMeteringUnitOfMeasure:    uint8(0x00),
		AttrMeteringDemandFormatting: uint8(0xf9),
	})

	ch := newTestMeteringChannel(t, radio)
	require.NoError(t, ch.Initialize(context.Background(), false))

	assert.Equal(t, "kW", ch.Unit())
	assert.InDelta(t, 1.234, ch.Scale(1234), 1e-9)
	assert.Equal(t, ChannelInitialized, ch.Status())
}

func TestMeteringInitializeFromCacheSkipsRead(t *testing.T) {
	radio := newFakeRadio()
	ch := newTestMeteringChannel(t, radio)

	require.NoError(t, ch.Initialize(context.Background(), true))

	assert.Empty(t, radio.readCalls)
}

func TestMeteringUpdateScalesInstantDemand(t *testing.T) {
	radio := newFakeRadio()
	radio.setReadResult("00:11", 1, ClusterMetering, map[uint16]interface{}{
		AttrMeteringDivisor:    uint32(10),
		AttrMeteringMultiplier: uint32(3),
	})
	ch := newTestMeteringChannel(t, radio)
	require.NoError(t, ch.Initialize(context.Background(), false))

	var got interface{}
	ch.AddListener(func(attr uint16, value interface{}) {
		if attr == AttrMeteringInstantDemand {
			got = value
		}
	})

	ch.HandleAttributeUpdate(AttrMeteringInstantDemand, int64(100))

	require.IsType(t, float64(0), got)
	assert.InDelta(t, 30.0, got.(float64), 1e-9)
}

func TestMeteringNonDemandAttributesPassThrough(t *testing.T) {
	radio := newFakeRadio()
	ch := newTestMeteringChannel(t, radio)

	var got interface{}
	ch.AddListener(func(attr uint16, value interface{}) { got = value })

	ch.HandleAttributeUpdate(AttrMeteringUnitOfMeasure, uint8(7))
	assert.Equal(t, uint8(7), got)
}

func TestFormatDemand(t *testing.T) {
	tests := []struct {
		name       string
		formatting uint8
		value      float64
		want       string
	}{
		{"default suppresses leading zeros", 0xf9, 1.26, "1.3"},
		{"one decimal", 0xf9, 0.04, "0.0"},
		{"three decimals suppressed", 0xfb, 1.234, "1.234"},
		{"padded when not suppressed", 0x23, 1.25, "0001.250"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := newFakeRadio()
			radio.setReadResult("00:11", 1, ClusterMetering, map[uint16]interface{}{
				AttrMeteringDemandFormatting: tt.formatting,
			})
			ch := newTestMeteringChannel(t, radio)
			require.NoError(t, ch.Initialize(context.Background(), false))

			assert.Equal(t, tt.want, ch.FormatDemand(tt.value))
		})
	}
}
