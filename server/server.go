package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/elly-po/copiAlpha-sub000/config"
	"github.com/elly-po/copiAlpha-sub000/engine"
	"github.com/elly-po/copiAlpha-sub000/middleware"
	"github.com/elly-po/copiAlpha-sub000/models"
	"github.com/elly-po/copiAlpha-sub000/storage"
)

// Server exposes the thin HTTP surface for the external collaborators: the
// ingestion layer posts normalized swap events, the UI layer manages users
// and reads positions. No business logic lives here.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	dispatcher *engine.Dispatcher
	ledger     storage.Ledger
	log        zerolog.Logger
}

// New builds the HTTP server and its routes.
func New(cfg config.ServerConfig, dispatcher *engine.Dispatcher, ledger storage.Ledger, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestLog(log), gin.Recovery())

	s := &Server{
		router:     router,
		dispatcher: dispatcher,
		ledger:     ledger,
		log:        log.With().Str("component", "server").Logger(),
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.POST("/webhook/swap", middleware.WebhookAuth(), s.handleSwapEvent)

	users := s.router.Group("/users")
	users.Use(middleware.BasicAuth(), middleware.ValidateQueryParams())
	users.POST("", s.handleCreateUser)
	users.GET("/:id/positions", s.handleListPositions)
	users.GET("/:id/trades", s.handleListTrades)
	users.PUT("/:id/settings", s.handleUpdateSettings)
	users.POST("/:id/alphas", s.handleAddAlpha)
	users.DELETE("/:id/alphas/:address", middleware.ValidateAddressParam(), s.handleRemoveAlpha)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// swapEventRequest is the normalized payload the ingestion layer delivers.
type swapEventRequest struct {
	Signature   string  `json:"signature" binding:"required"`
	Timestamp   int64   `json:"timestamp"`
	Side        string  `json:"side" binding:"required"`
	TokenIn     string  `json:"token_in" binding:"required"`
	TokenOut    string  `json:"token_out" binding:"required"`
	AmountIn    float64 `json:"amount_in"`
	AmountOut   float64 `json:"amount_out"`
	AlphaWallet string  `json:"alpha_wallet" binding:"required"`
	PoolAddress string  `json:"pool_address"`
}

func (s *Server) handleSwapEvent(c *gin.Context) {
	var req swapEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid payload: %v", err)})
		return
	}

	event := models.SwapEvent{
		Signature:   req.Signature,
		Timestamp:   time.Unix(req.Timestamp, 0),
		Side:        models.Side(req.Side),
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		AmountIn:    req.AmountIn,
		AmountOut:   req.AmountOut,
		AlphaWallet: req.AlphaWallet,
		PoolAddress: req.PoolAddress,
	}
	if err := engine.ValidateEvent(event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Fan-out happens on background goroutines; ack the webhook immediately.
	s.dispatcher.OnSwapEvent(context.WithoutCancel(c.Request.Context()), event)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type createUserRequest struct {
	TelegramID    int64               `json:"telegram_id" binding:"required"`
	WalletAddress string              `json:"wallet_address"`
	SignerRef     string              `json:"signer_ref"`
	Settings      models.UserSettings `json:"settings"`
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid payload: %v", err)})
		return
	}

	user, err := s.ledger.CreateUser(c.Request.Context(), models.User{
		TelegramID:    req.TelegramID,
		WalletAddress: req.WalletAddress,
		SignerRef:     req.SignerRef,
		Settings:      req.Settings,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("create user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleListPositions(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	positions, err := s.ledger.GetOpenPositions(c.Request.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", id).Msg("list positions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list positions failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleListTrades(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := s.ledger.ListUserTrades(c.Request.Context(), id, limit)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", id).Msg("list trades failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list trades failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	var settings models.UserSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid payload: %v", err)})
		return
	}
	if err := s.ledger.UpdateUserSettings(c.Request.Context(), id, settings); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		s.log.Error().Err(err).Int64("user_id", id).Msg("update settings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update settings failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type addAlphaRequest struct {
	Address  string `json:"address" binding:"required"`
	Nickname string `json:"nickname"`
}

func (s *Server) handleAddAlpha(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	var req addAlphaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid payload: %v", err)})
		return
	}
	if !middleware.IsValidSolanaAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address: must be a base58 Solana address"})
		return
	}
	err := s.ledger.AddAlphaWallet(c.Request.Context(), models.AlphaWallet{
		Address:  req.Address,
		OwnerID:  id,
		Nickname: req.Nickname,
	})
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", id).Msg("add alpha wallet failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add alpha wallet failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "tracking", "address": req.Address})
}

func (s *Server) handleRemoveAlpha(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	address := c.Param("address")
	if err := s.ledger.RemoveAlphaWallet(c.Request.Context(), id, address); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alpha wallet not tracked"})
			return
		}
		s.log.Error().Err(err).Int64("user_id", id).Msg("remove alpha wallet failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove alpha wallet failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "untracked", "address": address})
}
