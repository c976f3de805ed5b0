package signal

import (
	"errors"

	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, msg domain.Message) {
	if !msg.RoomID.Valid() {
		ctl.sendError(conn, "bad_room")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(msg.RoomID)).Msg("join")
	if err := ctl.Orch.Join(sid, msg.RoomID); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		ctl.sendError(conn, "join_failed")
	}
}

func (ctl *SignalWSController) handleRelay(sid core.SessionID, conn *WsSignalConn, msg domain.Message) {
	res, err := ctl.Orch.Relay(sid, msg)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(msg.Type)).Msg("relay rejected")
		if errors.Is(err, domain.ErrNotInRoom) {
			ctl.sendError(conn, "not_in_room")
			return
		}
		ctl.sendError(conn, "relay_failed")
		return
	}
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("type", string(msg.Type)).Int("sent_to", res.SendTo).Msg("relayed")
}
