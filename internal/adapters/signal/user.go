package signal

import (
	"mellium.im/xmpp/jid"
)

type seatDTO struct {
	Room string `json:"room"`
	Nick string `json:"nick"`
}

func (ctl *SignalWSController) handleWhoAmI(
	full jid.JID,
	conn *WsSignalConn,
) {
	resp := struct {
		Type  string    `json:"type"`
		JID   string    `json:"jid"`
		Rooms []seatDTO `json:"rooms"`
	}{
		Type:  "whoami",
		JID:   full.String(),
		Rooms: []seatDTO{},
	}
	if ctl.Orch.Ghosts != nil {
		for _, s := range ctl.Orch.Ghosts.Seats(full.String()) {
			resp.Rooms = append(resp.Rooms, seatDTO{Room: s.Room.String(), Nick: s.Nick})
		}
	}
	ctl.sendJSON(conn, resp)
}
