package app

import (
	"time"

	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/pipeline"
)

// TickMsg triggers a frame update for animation.
type TickMsg time.Time

// SensorDataMsg carries a sensor_data payload from the feed.
type SensorDataMsg pipeline.SensorData

// CalibrationMsg carries a calibration_update payload from the feed.
type CalibrationMsg calibration.Table

// FeedStatusMsg reports a change in the feed connection.
type FeedStatusMsg struct {
	Connected bool
	Err       error
}

// ControlResultMsg reports the outcome of an upstream calibration request.
type ControlResultMsg struct {
	AnchorID string
	Err      error
}
