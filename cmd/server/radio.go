package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/config"
	"github.com/hearth-home/hearth-backend-go/internal/zigbee"
)

// newRadio resolves the zigbee.Radio implementation for this build.
// The default build ships without a radio driver; deployments link one
// in here (or build-tag an alternative file) for their coordinator
// hardware.
func newRadio(cfg config.ZigbeeConfig, log *logrus.Logger) (zigbee.Radio, error) {
	if cfg.RadioPath == "" {
		return nil, fmt.Errorf("zigbee.radio_path is not set")
	}
	return nil, fmt.Errorf("no radio driver in this build for %s", cfg.RadioPath)
}
