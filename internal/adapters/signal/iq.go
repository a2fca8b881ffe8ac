package signal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/domain"
)

// handleIQ serves request/response operations:
//
//	{"type":"iq","id":"7","action":"set_affiliation","room":"room@service","jid":"bob@example.com","affiliation":"member"}
func (ctl *SignalWSController) handleIQ(ctx context.Context, full jid.JID, c *WsSignalConn, id string, data []byte) {
	f := gjson.GetManyBytes(data, "action", "room", "reason")
	action, reason := f[0].String(), f[2].String()
	log.Debug().Str("module", "signal").Str("jid", full.String()).Str("action", action).Str("id", id).Msg("iq")

	var room jid.JID
	if f[1].Exists() {
		var err error
		if room, err = domain.RoomJID(f[1].String()); err != nil {
			ctl.sendError(c, id, err)
			return
		}
	}

	var (
		result any
		err    error
	)
	switch action {
	case "disco_info":
		if f[1].Exists() {
			result, err = ctl.Orch.RoomInfo(ctx, room)
		} else {
			result = ctl.Orch.ServiceInfo()
		}
	case "disco_items":
		result = ctl.Orch.ServiceItems()
	case "unique_room":
		var name jid.JID
		if name, err = ctl.Orch.UniqueRoomName(); err == nil {
			result = map[string]string{"jid": name.String()}
		}
	case "occupants":
		result, err = ctl.Orch.Occupants(ctx, room)
	case "set_affiliation":
		var target jid.JID
		var aff domain.Affiliation
		if target, err = parseTarget(data, "jid"); err == nil {
			if aff, err = domain.ParseAffiliation(gjson.GetBytes(data, "affiliation").String()); err == nil {
				err = ctl.Orch.SetAffiliation(ctx, full, room, target, aff, reason)
			}
		}
	case "set_role":
		var role domain.Role
		if role, err = domain.ParseRole(gjson.GetBytes(data, "role").String()); err == nil {
			err = ctl.Orch.SetRole(ctx, full, room, gjson.GetBytes(data, "nick").String(), role, reason)
		}
	case "list_affiliation":
		var aff domain.Affiliation
		if aff, err = domain.ParseAffiliation(gjson.GetBytes(data, "affiliation").String()); err == nil {
			result, err = ctl.Orch.ListAffiliation(ctx, full, room, aff)
		}
	case "get_config":
		result, err = ctl.Orch.GetConfig(ctx, full, room)
	case "submit_config":
		err = ctl.Orch.SubmitConfig(ctx, full, room, formValues(gjson.GetBytes(data, "fields")))
	case "destroy":
		err = ctl.Orch.DestroyRoom(ctx, full, room, reason)
	default:
		err = fmt.Errorf("%w: unknown action %q", domain.ErrBadRequest, action)
	}
	if err != nil {
		ctl.sendError(c, id, err)
		return
	}
	ctl.sendJSON(c, envelope{Type: "result", ID: id, Result: result})
}

// formValues flattens {"var": value | [values]} into form values. JSON
// booleans become "1" and "0".
func formValues(fields gjson.Result) map[string][]string {
	out := make(map[string][]string)
	fields.ForEach(func(key, value gjson.Result) bool {
		var vals []string
		if value.IsArray() {
			for _, v := range value.Array() {
				vals = append(vals, scalar(v))
			}
		} else if value.Type != gjson.Null {
			vals = []string{scalar(value)}
		}
		out[key.String()] = vals
		return true
	})
	return out
}

func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.True:
		return "1"
	case gjson.False:
		return "0"
	default:
		return v.String()
	}
}
