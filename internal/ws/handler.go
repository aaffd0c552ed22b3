package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"arcade-service/internal/middleware"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/hub"
	"arcade-service/internal/service/match"
	"arcade-service/internal/service/player"
	"arcade-service/internal/service/table"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"
	"arcade-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	hub     *hub.Hub
	tables  *table.Service
	matches *match.Service
	players *player.Service
	limiter *middleware.Limiter
}

func NewHandler(h *hub.Hub, tables *table.Service, matches *match.Service, players *player.Service, limiter *middleware.Limiter) *Handler {
	return &Handler{hub: h, tables: tables, matches: matches, players: players, limiter: limiter}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) authenticate(c *gin.Context) (int64, bool) {
	playerID, err := middleware.TokenFromQuery(c)
	if err == nil {
		err = h.players.Active(c.Request.Context(), playerID)
	}
	if err != nil {
		response.FromError(c, err)
		return 0, false
	}
	return playerID, true
}

// HandleTableWS streams a round table and accepts wagers over the socket.
func (h *Handler) HandleTableWS(c *gin.Context) {
	kind, err := game.ParseKind(c.Param("variant"))
	if err == nil && kind.Mode() != game.ModeRound {
		err = fmt.Errorf("%w: %q has no table", appErr.ErrUnknownVariant, kind)
	}
	if err != nil {
		response.FromError(c, err)
		return
	}
	playerID, ok := h.authenticate(c)
	if !ok {
		return
	}

	snap, err := h.tables.Join(c.Request.Context(), kind)
	if err != nil {
		response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("table socket opened",
		zap.String("variant", string(kind)),
		zap.Int64("tableID", snap.TableID),
		zap.Int64("playerID", playerID))

	sub := h.hub.Subscribe(hub.TableTopic(snap.TableID), strconv.FormatInt(playerID, 10))
	cl := newClient(conn, playerID, h.hub, sub)
	cl.reply(hub.KindSnapshot, snap)
	cl.run(func(ctx context.Context, cmd inbound) {
		h.tableCommand(ctx, cl, kind, cmd)
	})
}

// HandleMatchWS carries head-to-head requests and the player's match feed.
func (h *Handler) HandleMatchWS(c *gin.Context) {
	playerID, ok := h.authenticate(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	logger.Log.Info("match socket opened", zap.Int64("playerID", playerID))

	sub := h.hub.Subscribe(hub.PlayerTopic(playerID), "match")
	cl := newClient(conn, playerID, h.hub, sub)
	cl.run(func(ctx context.Context, cmd inbound) {
		h.matchCommand(ctx, cl, cmd)
	})
}

func (h *Handler) tableCommand(ctx context.Context, cl *client, kind game.Kind, cmd inbound) {
	if !cmd.Type.tableCommand() {
		cl.fail(fmt.Errorf("%w: unknown command %q", appErr.ErrInvalidSelection, cmd.Type))
		return
	}
	switch cmd.Type {
	case CmdPing:
		cl.reply(hub.KindPong, gin.H{})
	case CmdSnapshot:
		snap, err := h.tables.Snapshot(ctx, kind)
		if err != nil {
			cl.fail(err)
			return
		}
		cl.reply(hub.KindSnapshot, snap)
	case CmdPlaceBet:
		if err := h.limiter.Allow(ctx, cl.playerID); err != nil {
			cl.fail(err)
			return
		}
		// Success is observed through the bet_placed broadcast.
		if _, err := h.tables.PlaceBet(ctx, cl.playerID, kind, cmd.Data); err != nil {
			cl.fail(err)
		}
	case CmdReviseCashout:
		if kind != game.KindRocket {
			cl.fail(fmt.Errorf("%w: %s has no cash-out", appErr.ErrRevisionRejected, kind))
			return
		}
		var body reviseBody
		if err := json.Unmarshal(cmd.Data, &body); err != nil {
			cl.fail(fmt.Errorf("%w: %v", appErr.ErrRevisionRejected, err))
			return
		}
		if _, err := h.tables.ReviseCashout(ctx, cl.playerID, body.Target); err != nil {
			cl.fail(err)
		}
	}
}

func (h *Handler) matchCommand(ctx context.Context, cl *client, cmd inbound) {
	if !cmd.Type.matchCommand() {
		cl.fail(fmt.Errorf("%w: unknown command %q", appErr.ErrInvalidSelection, cmd.Type))
		return
	}
	switch cmd.Type {
	case CmdPing:
		cl.reply(hub.KindPong, gin.H{})
	case CmdRequestMatch:
		var body requestMatchBody
		if err := json.Unmarshal(cmd.Data, &body); err != nil {
			cl.fail(fmt.Errorf("%w: %v", appErr.ErrInvalidSelection, err))
			return
		}
		kind, err := game.ParseKind(body.Variant)
		if err != nil {
			cl.fail(err)
			return
		}
		// match_waiting or match_found follows on the player topic.
		if _, err := h.matches.RequestMatch(ctx, match.RequestMatchRequest{
			PlayerID: cl.playerID,
			Variant:  kind,
			Amount:   body.Amount,
		}); err != nil {
			cl.fail(err)
		}
	case CmdCancelMatch:
		if err := h.matches.Cancel(ctx, cl.playerID); err != nil {
			cl.fail(err)
		}
	case CmdResume:
		view, err := h.matches.Resume(ctx, cl.playerID)
		if err != nil {
			cl.fail(err)
			return
		}
		cl.reply(hub.KindMatchUpdate, view)
	case CmdScore:
		var body scoreBody
		if err := json.Unmarshal(cmd.Data, &body); err != nil {
			cl.fail(fmt.Errorf("%w: %v", appErr.ErrInvalidSelection, err))
			return
		}
		if _, err := h.matches.Score(ctx, body.MatchID, cl.playerID, body.Points); err != nil {
			cl.fail(err)
		}
	}
}

func errorData(err error) ErrorData {
	if !appErr.IsRejection(err) && !errors.Is(err, appErr.ErrUnknownVariant) &&
		!errors.Is(err, appErr.ErrMatchNotFound) && !errors.Is(err, appErr.ErrTableNotFound) {
		logger.Log.Warn("websocket command failed", zap.Error(err))
	}
	return ErrorData{Code: appErr.Code(err), Message: err.Error()}
}
