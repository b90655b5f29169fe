package qube

import (
	"fmt"
)

// SG-Ready relay coils. The two relays together encode the operating
// mode the grid operator requests.
const (
	coilSGReady1 uint16 = 100
	coilSGReady2 uint16 = 101
)

// SGReadyMode is one of the four SG-Ready operating modes.
type SGReadyMode string

const (
	SGReadyBlock       SGReadyMode = "Block"
	SGReadyNormal      SGReadyMode = "Normal"
	SGReadyRecommended SGReadyMode = "Recommended"
	SGReadyMax         SGReadyMode = "Max"
)

// SGReadyModes lists the selectable modes in display order.
var SGReadyModes = []SGReadyMode{SGReadyNormal, SGReadyBlock, SGReadyRecommended, SGReadyMax}

// relay truth table for each mode.
var sgReadyRelays = map[SGReadyMode][2]bool{
	SGReadyNormal:      {false, false},
	SGReadyBlock:       {true, false},
	SGReadyRecommended: {false, true},
	SGReadyMax:         {true, true},
}

// SGReadySelect maps the two SG-Ready relays onto one select entity.
type SGReadySelect struct {
	hub *Hub
}

// NewSGReadySelect creates the select over a hub.
func NewSGReadySelect(hub *Hub) *SGReadySelect {
	return &SGReadySelect{hub: hub}
}

// SetMode writes both relays for the requested mode.
func (s *SGReadySelect) SetMode(mode SGReadyMode) error {
	relays, ok := sgReadyRelays[mode]
	if !ok {
		return fmt.Errorf("unknown sg-ready mode: %s", mode)
	}
	if err := s.hub.WriteCoil(coilSGReady1, relays[0]); err != nil {
		return err
	}
	return s.hub.WriteCoil(coilSGReady2, relays[1])
}

// Mode reads both relays and renders the current mode.
func (s *SGReadySelect) Mode() (SGReadyMode, error) {
	relay1, err := s.hub.ReadCoil(coilSGReady1)
	if err != nil {
		return "", err
	}
	relay2, err := s.hub.ReadCoil(coilSGReady2)
	if err != nil {
		return "", err
	}
	return ModeFromRelays(relay1, relay2), nil
}

// ModeFromRelays renders the mode for a relay pair.
func ModeFromRelays(relay1, relay2 bool) SGReadyMode {
	for mode, relays := range sgReadyRelays {
		if relays[0] == relay1 && relays[1] == relay2 {
			return mode
		}
	}
	return SGReadyNormal
}
