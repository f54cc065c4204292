package hub

import (
	"encoding/json"
	"strconv"

	"github.com/chesshub/gateway/internal/ipc"
	"github.com/chesshub/gateway/internal/logger"
	"github.com/chesshub/gateway/internal/model"
)

// HandleLilaOut fans one backend message out to the matching senders.
// Runs synchronously on the bus subscriber worker.
func (h *Hub) HandleLilaOut(msg ipc.LilaOut) {
	switch m := msg.(type) {
	case ipc.TellUsers:
		for _, uid := range m.Users {
			h.fanOut(h.userSenders(uid), m.Payload)
		}

	case ipc.TellAll:
		h.broadcast(m.Payload)

	case ipc.TellFlag:
		h.fanOut(h.flagSenders(m.Flag), m.Payload)

	case ipc.TellSriOut:
		h.fanOut(h.sriSenders(m.Sri), m.Payload)

	case ipc.DisconnectUser:
		for _, sender := range h.userSenders(m.User) {
			sender.Close(CloseNormal)
		}

	case ipc.Move:
		state := GameState{Fen: m.Fen, LastUci: m.LastUci}
		h.watchedGames.Add(m.Game, state)
		h.fanOut(h.gameSenders(m.Game), fenFrame(m.Game, state))

	case ipc.MoveLatency:
		h.mlat.Store(m.Millis)
		h.publish(ipc.Connections{Count: h.ConnectionCount()})
		h.fanOut(h.mlatSenders(), mlatFrame(m.Millis))
		h.onMlat()

	case ipc.RoundNb:
		h.rounds.Store(m.Count)

	case ipc.MemberNb:
		h.members.Store(m.Count)
	}
}

// fanOut delivers one payload to a sender snapshot. A failed send is
// logged and skipped; the failing socket closes on its own timeline.
func (h *Hub) fanOut(senders []Sender, payload string) {
	for _, sender := range senders {
		if !sender.Send(payload) {
			logger.Hub().Warn().Uint64("token", sender.Token()).Msg("Send failed during fan-out")
		}
	}
}

func fenFrame(game model.GameID, state GameState) string {
	msg, _ := json.Marshal(struct {
		T string `json:"t"`
		D struct {
			ID  string `json:"id"`
			Fen string `json:"fen"`
			Lm  string `json:"lm"`
		} `json:"d"`
	}{T: "fen", D: struct {
		ID  string `json:"id"`
		Fen string `json:"fen"`
		Lm  string `json:"lm"`
	}{game.String(), state.Fen, state.LastUci}})
	return string(msg)
}

func mlatFrame(millis uint32) string {
	return `{"t":"mlat","d":` + strconv.FormatUint(uint64(millis), 10) + `}`
}
