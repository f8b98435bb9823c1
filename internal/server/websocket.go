package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"smartcrowd.klederson.com/internal/broadcast"
	"smartcrowd.klederson.com/internal/pipeline"
)

// handleWebSocket sends the client the current calibration, registers it as a
// subscriber, then serves its control messages until it goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := broadcast.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sub := broadcast.NewWSSubscriber(conn, s.writeTimeout)
	err = s.hub.ConnectWith(context.Background(), sub, func() any {
		return pipeline.CalibrationUpdate(s.store.All())
	})
	if err != nil {
		s.log.Debug("Initial calibration send failed", zap.String("id", sub.ID()), zap.Error(err))
		_ = sub.Close()
		return
	}
	defer func() {
		s.hub.Disconnect(sub.ID())
		_ = sub.Close()
	}()

	err = sub.ReadLoop(func(data []byte) { s.handleControl(sub.ID(), data) })
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Debug("WebSocket read ended", zap.String("id", sub.ID()), zap.Error(err))
	}
}

// handleControl applies an update_calibration request. Anything else,
// including malformed JSON, is ignored.
func (s *Server) handleControl(id string, data []byte) {
	var msg pipeline.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug("Ignoring malformed control message", zap.String("id", id), zap.Error(err))
		return
	}
	if msg.Type != pipeline.TypeUpdateCalibration || msg.AnchorID == "" {
		return
	}
	if !s.store.Update(msg.AnchorID, msg.RSSIAt1m, msg.PathLossExp) {
		s.log.Debug("Rejected calibration update", zap.String("id", id), zap.String("anchor", msg.AnchorID))
		return
	}
	s.metrics.CalibrationChanged("update")
	s.log.Info("Calibration updated", zap.String("anchor", msg.AnchorID), zap.String("source", "websocket"))
}
