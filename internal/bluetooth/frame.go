package bluetooth

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"smartcrowd.klederson.com/internal/metrics"
)

// ErrNoFrame is returned when a payload carries no bracketed field list.
var ErrNoFrame = errors.New("no frame in payload")

const (
	frameFields    = 11
	fieldSeparator = "; "
)

var framePattern = regexp.MustCompile(`\[(.*?)\]`)

// SensorReading is one decoded tracker frame, in wire order.
type SensorReading struct {
	Fall     int     `json:"fall"`
	SystemOn int     `json:"systemOn"`
	Acc      float64 `json:"acc"`
	AccX     float64 `json:"accX"`
	AccY     float64 `json:"accY"`
	AccZ     float64 `json:"accZ"`
	HR       float64 `json:"hr"`
	Temp     float64 `json:"temp"`
	RSSI1    float64 `json:"rssi1"`
	RSSI2    float64 `json:"rssi2"`
	RSSI3    float64 `json:"rssi3"`
}

// ParseFrame decodes a payload of the form
//
//	[fall; systemOn; acc; accX; accY; accZ; hr; temp; rssi1; rssi2; rssi3]
//
// Tokens that are missing or not numeric become 0, as do "nan" and infinities.
// The two flag fields drop any fractional part.
func ParseFrame(raw []byte) (SensorReading, error) {
	if !utf8.Valid(raw) {
		return SensorReading{}, ErrNoFrame
	}
	m := framePattern.FindSubmatch(raw)
	if m == nil {
		return SensorReading{}, ErrNoFrame
	}

	var vals [frameFields]float64
	for i, tok := range strings.SplitN(string(m[1]), fieldSeparator, frameFields+1) {
		if i >= frameFields {
			break
		}
		vals[i] = parseToken(tok)
	}

	return SensorReading{
		Fall:     int(vals[0]),
		SystemOn: int(vals[1]),
		Acc:      vals[2],
		AccX:     vals[3],
		AccY:     vals[4],
		AccZ:     vals[5],
		HR:       vals[6],
		Temp:     vals[7],
		RSSI1:    vals[8],
		RSSI2:    vals[9],
		RSSI3:    vals[10],
	}, nil
}

func parseToken(tok string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// FrameParser decodes notifications and remembers the last good reading.
// Failures are logged and counted, never returned.
type FrameParser struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	last SensorReading
	ok   bool
}

// NewFrameParser creates a parser. A nil logger disables logging.
func NewFrameParser(log *zap.Logger, m *metrics.Metrics) *FrameParser {
	if log == nil {
		log = zap.NewNop()
	}
	return &FrameParser{log: log, metrics: m}
}

// Parse decodes one payload. The bool is false when no reading was produced.
func (p *FrameParser) Parse(raw []byte) (SensorReading, bool) {
	r, err := ParseFrame(raw)
	if err != nil {
		p.metrics.FrameRejected()
		p.log.Debug("Dropped notification", zap.Error(err), zap.ByteString("payload", truncate(raw, 128)))
		return SensorReading{}, false
	}
	p.metrics.FrameParsed()

	p.mu.Lock()
	p.last, p.ok = r, true
	p.mu.Unlock()
	return r, true
}

// Last returns the most recent successfully parsed reading.
func (p *FrameParser) Last() (SensorReading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.ok
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
