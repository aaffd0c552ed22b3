package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"arcade-service/internal/config"
	"arcade-service/internal/middleware"
	"arcade-service/internal/service"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/match"
	"arcade-service/internal/ws"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/response"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container, rdb *redis.Client, limits config.RateLimitConfig) {
	handler := &Handler{services: services}
	limiter := middleware.NewLimiter(rdb, "ratelimit:bets", limits.Bets, limits.Window)
	wsHandler := ws.NewHandler(services.Hub, services.Table, services.Match, services.Player, limiter)

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", handler.Register)
			authGroup.POST("/login", handler.Login)
		}

		v1.GET("/tables", handler.ListTables)
		v1.GET("/tables/:variant", handler.TableSnapshot)
		v1.GET("/tables/:variant/history", handler.TableHistory)
		v1.GET("/rounds/:id/results", handler.RoundResults)

		protected := v1.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/me", handler.Me)
			protected.GET("/wallet", handler.Wallet)
			protected.GET("/wallet/history", handler.WalletHistory)

			wager := protected.Group("/")
			wager.Use(middleware.RateLimit(limiter))
			{
				wager.POST("/tables/:variant/bets", handler.PlaceBet)
				wager.POST("/tables/:variant/cashout", handler.ReviseCashout)
				wager.POST("/matches", handler.RequestMatch)
				wager.POST("/solo/guess", handler.StartGuess)
				wager.POST("/solo/guess/:id", handler.Guess)
				wager.POST("/solo/spin", handler.Spin)
			}

			protected.GET("/matches", handler.CurrentMatch)
			protected.DELETE("/matches", handler.CancelMatch)
			protected.POST("/matches/:id/score", handler.Score)
		}
	}

	r.GET("/ws/table/:variant", wsHandler.HandleTableWS)
	r.GET("/ws/match", wsHandler.HandleMatchWS)
}

type credentialsBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Nickname string `json:"nickname"`
}

type reviseBody struct {
	Target decimal.Decimal `json:"target"`
}

type matchRequestBody struct {
	Variant string `json:"variant" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,min=1"`
}

type scoreBody struct {
	Points int `json:"points" binding:"required,min=1"`
}

type guessStartBody struct {
	Stake int64 `json:"stake" binding:"required,min=1"`
}

type guessBody struct {
	Guess *int `json:"guess" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.services.Player.Register(c.Request.Context(), body.Username, body.Password, body.Nickname)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.services.Player.Login(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) Me(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	profile, err := h.services.Player.Profile(c.Request.Context(), playerID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, profile)
}

func (h *Handler) ListTables(c *gin.Context) {
	tables, err := h.services.Table.Tables(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"tables": tables})
}

func (h *Handler) TableSnapshot(c *gin.Context) {
	kind, ok := roundKind(c)
	if !ok {
		return
	}
	snap, err := h.services.Table.Join(c.Request.Context(), kind)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, snap)
}

func (h *Handler) TableHistory(c *gin.Context) {
	kind, ok := roundKind(c)
	if !ok {
		return
	}
	limit, err := parsePositiveIntQuery(c, "limit", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if limit > 100 {
		limit = 100
	}
	items, err := h.services.Table.History(c.Request.Context(), kind, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"items": items})
}

func (h *Handler) RoundResults(c *gin.Context) {
	roundID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || roundID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid round id")
		return
	}
	results, err := h.services.Table.Results(c.Request.Context(), roundID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"items": results})
}

func (h *Handler) PlaceBet(c *gin.Context) {
	kind, ok := roundKind(c)
	if !ok {
		return
	}
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := h.services.Table.PlaceBet(c.Request.Context(), playerID, kind, raw)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, receipt)
}

func (h *Handler) ReviseCashout(c *gin.Context) {
	kind, ok := roundKind(c)
	if !ok {
		return
	}
	if kind != game.KindRocket {
		response.FromError(c, fmt.Errorf("%w: %s has no cash-out", appErr.ErrRevisionRejected, kind))
		return
	}
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	var body reviseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	bet, err := h.services.Table.ReviseCashout(c.Request.Context(), playerID, body.Target)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"bet": bet})
}

func (h *Handler) RequestMatch(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	var body matchRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := game.ParseKind(body.Variant)
	if err != nil {
		response.FromError(c, err)
		return
	}
	result, err := h.services.Match.RequestMatch(c.Request.Context(), match.RequestMatchRequest{
		PlayerID: playerID,
		Variant:  kind,
		Amount:   body.Amount,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) CurrentMatch(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	view, err := h.services.Match.Resume(c.Request.Context(), playerID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) CancelMatch(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	if err := h.services.Match.Cancel(c.Request.Context(), playerID); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{"status": "cancelled"}, "")
}

func (h *Handler) Score(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	matchID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || matchID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid match id")
		return
	}
	var body scoreBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.services.Match.Score(c.Request.Context(), matchID, playerID, body.Points)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) StartGuess(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	var body guessStartBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.services.Solo.StartGuess(c.Request.Context(), playerID, body.Stake)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) Guess(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	var body guessBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.services.Solo.Guess(c.Request.Context(), playerID, c.Param("id"), *body.Guess)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) Spin(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	result, err := h.services.Solo.Spin(c.Request.Context(), playerID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) Wallet(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	balance, err := h.services.Ledger.GetBalance(c.Request.Context(), playerID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"balance": balance})
}

func (h *Handler) WalletHistory(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		response.FromError(c, appErr.ErrAuthenticationRequired)
		return
	}
	page, err := parsePositiveIntQuery(c, "page", 1)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parsePositiveIntQuery(c, "size", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.services.Ledger.History(c.Request.Context(), playerID, page, size)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"items": result.Items,
		"total": result.Total,
		"page":  page,
		"size":  size,
	})
}

func roundKind(c *gin.Context) (game.Kind, bool) {
	kind, err := game.ParseKind(c.Param("variant"))
	if err == nil && kind.Mode() != game.ModeRound {
		err = fmt.Errorf("%w: %q has no table", appErr.ErrUnknownVariant, kind)
	}
	if err != nil {
		response.FromError(c, err)
		return "", false
	}
	return kind, true
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultVal int) (int, error) {
	val := c.Query(key)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return parsed, nil
}
