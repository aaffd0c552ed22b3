package ws

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Command is an inbound websocket message type.
type Command string

const (
	CmdPlaceBet      Command = "place_bet"
	CmdReviseCashout Command = "revise_cashout"
	CmdSnapshot      Command = "snapshot"
	CmdPing          Command = "ping"
	CmdRequestMatch  Command = "request_match"
	CmdCancelMatch   Command = "cancel_match"
	CmdResume        Command = "resume"
	CmdScore         Command = "score"
)

func (c Command) tableCommand() bool {
	switch c {
	case CmdPlaceBet, CmdReviseCashout, CmdSnapshot, CmdPing:
		return true
	}
	return false
}

func (c Command) matchCommand() bool {
	switch c {
	case CmdRequestMatch, CmdCancelMatch, CmdResume, CmdScore, CmdPing:
		return true
	}
	return false
}

type inbound struct {
	Type Command         `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type reviseBody struct {
	Target decimal.Decimal `json:"target"`
}

type requestMatchBody struct {
	Variant string `json:"variant"`
	Amount  int64  `json:"amount"`
}

type scoreBody struct {
	MatchID int64 `json:"matchId"`
	Points  int   `json:"points"`
}
