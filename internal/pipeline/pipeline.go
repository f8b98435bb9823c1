// Package pipeline turns tracker readings into subscriber messages: distance
// estimation, trilateration, rolling vital-sign history and broadcast.
package pipeline

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"smartcrowd.klederson.com/internal/bluetooth"
	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/config"
	"smartcrowd.klederson.com/internal/metrics"
	"smartcrowd.klederson.com/internal/position"
)

// Broadcaster delivers a message to every subscriber.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg any)
}

// Pipeline is the single consumer of the reading queue. All history
// mutation happens on the goroutine that calls Process.
type Pipeline struct {
	store       *calibration.Store
	broadcaster Broadcaster
	room        string
	log         *zap.Logger
	metrics     *metrics.Metrics

	hr   *Ring[Sample]
	temp *Ring[Sample]
	acc  *Ring[Sample]
}

// New creates a pipeline reading calibration from store and publishing to b.
func New(store *calibration.Store, b Broadcaster, room string, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	if room == "" {
		room = config.RoomName
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		store:       store,
		broadcaster: b,
		room:        room,
		log:         log,
		metrics:     m,
		hr:          NewRing[Sample](config.HistorySize),
		temp:        NewRing[Sample](config.HistorySize),
		acc:         NewRing[Sample](config.HistorySize),
	}
}

// Run processes readings until ctx is cancelled or the channel closes.
func (p *Pipeline) Run(ctx context.Context, readings <-chan bluetooth.SensorReading) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-readings:
			if !ok {
				return nil
			}
			p.Process(ctx, r, time.Now())
		}
	}
}

// Process runs one reading through the pipeline and broadcasts the result.
func (p *Pipeline) Process(ctx context.Context, r bluetooth.SensorReading, now time.Time) SensorData {
	table := p.store.All()

	distances := position.EstimateDistances(r.RSSI1, r.RSSI2, r.RSSI3, table)
	res := position.Solve(distances, position.AnchorPoints(table))
	if res.Fallback {
		p.log.Debug("Trilateration fell back to room center",
			zap.Float64("d1", distances.A1),
			zap.Float64("d2", distances.A2),
			zap.Float64("d3", distances.A3),
		)
	}

	hr := math.Round(r.HR)
	temp := position.Round(r.Temp, 1)
	acc := position.Round(r.Acc, 1)
	ts := now.UnixMilli()

	p.hr.Push(Sample{Time: ts, Value: hr})
	p.temp.Push(Sample{Time: ts, Value: temp})
	p.acc.Push(Sample{Time: ts, Value: acc})

	data := SensorData{
		Fall:         r.Fall,
		SystemOn:     r.SystemOn,
		Heartbeat:    hr,
		Temperature:  temp,
		Acceleration: acc,
		AccX:         position.Round(r.AccX, 2),
		AccY:         position.Round(r.AccY, 2),
		AccZ:         position.Round(r.AccZ, 2),
		Position:     res.Point,
		Distances:    distances,
		RSSI:         RSSI{RSSI1: r.RSSI1, RSSI2: r.RSSI2, RSSI3: r.RSSI3},
		Room:         p.room,
		HRHistory:    p.hr.Values(),
		TempHistory:  p.temp.Values(),
		AccHistory:   p.acc.Values(),
		Calibration:  table,
	}

	p.metrics.ReadingProcessed(res.Fallback)
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(ctx, Message{Type: TypeSensorData, Data: data})
	}
	return data
}
