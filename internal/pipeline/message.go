package pipeline

import (
	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/position"
)

// Message types on the subscriber stream.
const (
	TypeSensorData        = "sensor_data"
	TypeCalibrationUpdate = "calibration_update"

	// TypeUpdateCalibration is the only message subscribers send upstream.
	TypeUpdateCalibration = "update_calibration"
)

// Message is the envelope of everything pushed to subscribers.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RSSI echoes the raw per-anchor signal strength of a reading.
type RSSI struct {
	RSSI1 float64 `json:"rssi1"`
	RSSI2 float64 `json:"rssi2"`
	RSSI3 float64 `json:"rssi3"`
}

// SensorData is the payload of a sensor_data message. Fall and SystemOn keep
// the tracker's 0/1 encoding.
type SensorData struct {
	Fall         int                `json:"fall"`
	SystemOn     int                `json:"systemOn"`
	Heartbeat    float64            `json:"heartbeat"`
	Temperature  float64            `json:"temperature"`
	Acceleration float64            `json:"acceleration"`
	AccX         float64            `json:"accX"`
	AccY         float64            `json:"accY"`
	AccZ         float64            `json:"accZ"`
	Position     position.Point     `json:"position"`
	Distances    position.Distances `json:"distances"`
	RSSI         RSSI               `json:"rssi"`
	Room         string             `json:"room"`
	HRHistory    []Sample           `json:"heartbeatHistory"`
	TempHistory  []Sample           `json:"temperatureHistory"`
	AccHistory   []Sample           `json:"accelerationHistory"`
	Calibration  calibration.Table  `json:"calibration"`
}

// CalibrationUpdate wraps a table snapshot for broadcast.
func CalibrationUpdate(t calibration.Table) Message {
	return Message{Type: TypeCalibrationUpdate, Data: t}
}

// ControlMessage is an upstream request from a subscriber. RSSIAt1m and
// PathLossExp are optional.
type ControlMessage struct {
	Type        string   `json:"type"`
	AnchorID    string   `json:"anchor_id"`
	RSSIAt1m    *float64 `json:"rssi_1m,omitempty"`
	PathLossExp *float64 `json:"n,omitempty"`
}
