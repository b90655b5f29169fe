package zigbee

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Default demand formatting: 1 digit right of the decimal point, 15
// digits left, suppress leading zeros.
const defaultDemandFormatting = 0xf9

var meteringUnits = map[uint8]string{
	0x00: "kW",
	0x01: "m³/h",
	0x02: "ft³/h",
	0x03: "ccf/h",
	0x04: "US gal/h",
	0x05: "IMP gal/h",
	0x06: "BTU/h",
	0x07: "l/h",
	0x08: "kPa",
	0x09: "kPa",
	0x0a: "mcf/h",
	0x0b: "unitless",
	0x0c: "MJ/s",
}

// MeteringChannel normalizes raw metering register values. The cluster
// reports integers scaled by a device-specific multiplier/divisor pair;
// listeners only ever see the scaled value.
type MeteringChannel struct {
	*Channel

	fmtMu            sync.RWMutex
	divisor          int64
	multiplier       int64
	unit             string
	demandFormatting uint8
}

// NewMeteringChannel creates the metering channel with neutral scaling
// until Initialize fetches the device's formatting attributes.
func NewMeteringChannel(radio Radio, ieee string, endpoint uint8, def ClusterDef, log *logrus.Logger) *MeteringChannel {
	return &MeteringChannel{
		Channel:          NewChannel(radio, ieee, endpoint, def, log),
		divisor:          1,
		multiplier:       1,
		unit:             "unknown",
		demandFormatting: defaultDemandFormatting,
	}
}

// Initialize fetches divisor, multiplier, unit of measure and demand
// formatting from the cluster. Missing attributes keep their defaults.
func (c *MeteringChannel) Initialize(ctx context.Context, fromCache bool) error {
	if !fromCache {
		attrs, err := c.radio.ReadAttributes(ctx, c.ieee, c.endpoint, c.def.ID, []uint16{
			AttrMeteringUnitOfMeasure,
			AttrMeteringMultiplier,
			AttrMeteringDivisor,
			AttrMeteringDemandFormatting,
		})
		if err != nil {
			return fmt.Errorf("failed to read metering formatting attributes: %w", err)
		}
		c.applyFormatting(attrs)
	}
	return c.Channel.Initialize(ctx, fromCache)
}

func (c *MeteringChannel) applyFormatting(attrs map[uint16]interface{}) {
	c.fmtMu.Lock()
	defer c.fmtMu.Unlock()

	if v, ok := toInt64(attrs[AttrMeteringDivisor]); ok && v > 0 {
		c.divisor = v
	}
	if v, ok := toInt64(attrs[AttrMeteringMultiplier]); ok && v > 0 {
		c.multiplier = v
	}
	if v, ok := toInt64(attrs[AttrMeteringUnitOfMeasure]); ok {
		if unit, known := meteringUnits[uint8(v)]; known {
			c.unit = unit
		}
	}
	if v, ok := toInt64(attrs[AttrMeteringDemandFormatting]); ok {
		c.demandFormatting = uint8(v)
	}
}

// Unit returns the human unit resolved from the cluster.
func (c *MeteringChannel) Unit() string {
	c.fmtMu.RLock()
	defer c.fmtMu.RUnlock()
	return c.unit
}

// HandleAttributeUpdate scales raw instantaneous-demand values by
// multiplier/divisor before dispatching. Other attributes pass through.
func (c *MeteringChannel) HandleAttributeUpdate(attr uint16, value interface{}) {
	if attr == AttrMeteringInstantDemand {
		if raw, ok := toInt64(value); ok {
			c.dispatch(attr, c.Scale(raw))
			return
		}
	}
	c.dispatch(attr, value)
}

// Scale converts a raw demand register to its engineering value.
func (c *MeteringChannel) Scale(raw int64) float64 {
	c.fmtMu.RLock()
	defer c.fmtMu.RUnlock()
	return float64(raw) * float64(c.multiplier) / float64(c.divisor)
}

// FormatDemand renders a scaled demand value per the packed demand
// formatting byte: bits 0-2 digits right of the decimal point, bits
// 3-6 digits left, bit 7 suppresses leading zeros.
func (c *MeteringChannel) FormatDemand(value float64) string {
	c.fmtMu.RLock()
	formatting := c.demandFormatting
	c.fmtMu.RUnlock()

	rightDigits := int(formatting & 0x07)
	leftDigits := int((formatting >> 3) & 0x0f)
	suppressLeading := formatting&0x80 != 0

	s := strconv.FormatFloat(value, 'f', rightDigits, 64)

	if !suppressLeading {
		width := leftDigits
		if rightDigits > 0 {
			width += rightDigits + 1
		}
		if pad := width - len(strings.TrimPrefix(s, "-")); pad > 0 {
			neg := strings.HasPrefix(s, "-")
			body := strings.TrimPrefix(s, "-")
			body = strings.Repeat("0", pad) + body
			if neg {
				body = "-" + body
			}
			s = body
		}
	}
	return s
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
