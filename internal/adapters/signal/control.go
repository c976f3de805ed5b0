package signal

import "github.com/dkeye/Beam/internal/domain"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, domain.Message{Type: domain.TypePong})
}
