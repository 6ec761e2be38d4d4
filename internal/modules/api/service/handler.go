package service

import (
	"context"
	"net/http"

	"bot_engine/internal/models"
	strategy "bot_engine/internal/modules/strategy/service"
	"bot_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// Engine: операции оркестратора, доступные через HTTP.
type Engine interface {
	Deploy(ctx context.Context, cfg models.StrategyConfig) (models.BotInstance, error)
	Bots() []models.BotInstance
	Bot(id string) (models.BotInstance, error)
	Strategy(id string) (models.StrategyConfig, strategy.Description, error)
	Pause(ctx context.Context, id string) (models.BotInstance, error)
	Resume(ctx context.Context, id string) (models.BotInstance, error)
	Stop(ctx context.Context, id string) (models.BotInstance, error)
	BotPositions(id string) ([]models.Position, error)
	BotTrades(id string) ([]models.Trade, error)
	BotStatistics(id string) (models.BotStatistics, error)
	LastExecution(id string) (models.ExecutionResult, bool)
}

type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// NewRouter собирает gin-роутер control API.
func NewRouter(h *Handler, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	v1.GET("/strategies/types", h.StrategyTypes)
	v1.POST("/bots", h.Deploy)
	v1.GET("/bots", h.ListBots)
	v1.GET("/bots/:id", h.GetBot)
	v1.GET("/bots/:id/strategy", h.GetStrategy)
	v1.POST("/bots/:id/pause", h.Pause)
	v1.POST("/bots/:id/resume", h.Resume)
	v1.POST("/bots/:id/stop", h.Stop)
	v1.GET("/bots/:id/positions", h.Positions)
	v1.GET("/bots/:id/trades", h.Trades)
	v1.GET("/bots/:id/statistics", h.Statistics)
	return r
}

// writeError: 400 при ошибке валидации, 404 для неизвестного бота, 409 на недопустимый переход.
func writeError(c *gin.Context, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "reasons": verr.Reasons})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type strategyType struct {
	Type     models.StrategyType `json:"type"`
	Defaults map[string]any      `json:"defaults"`
}

func (h *Handler) StrategyTypes(c *gin.Context) {
	out := make([]strategyType, 0)
	for _, t := range strategy.Types() {
		d, _ := strategy.Defaults(t)
		out = append(out, strategyType{Type: t, Defaults: d})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Deploy(c *gin.Context) {
	var cfg models.StrategyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request body", "reasons": []string{err.Error()}})
		return
	}
	bot, err := h.engine.Deploy(c.Request.Context(), cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (h *Handler) ListBots(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Bots())
}

type botView struct {
	models.BotInstance
	LastExecution *models.ExecutionResult `json:"lastExecution,omitempty"`
}

func (h *Handler) GetBot(c *gin.Context) {
	id := c.Param("id")
	bot, err := h.engine.Bot(id)
	if err != nil {
		writeError(c, err)
		return
	}
	view := botView{BotInstance: bot}
	if res, ok := h.engine.LastExecution(id); ok {
		view.LastExecution = &res
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) GetStrategy(c *gin.Context) {
	cfg, desc, err := h.engine.Strategy(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg, "description": desc})
}

func (h *Handler) Pause(c *gin.Context) {
	h.transition(c, h.engine.Pause)
}

func (h *Handler) Resume(c *gin.Context) {
	h.transition(c, h.engine.Resume)
}

func (h *Handler) Stop(c *gin.Context) {
	h.transition(c, h.engine.Stop)
}

func (h *Handler) transition(c *gin.Context, fn func(context.Context, string) (models.BotInstance, error)) {
	bot, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (h *Handler) Positions(c *gin.Context) {
	out, err := h.engine.BotPositions(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Trades(c *gin.Context) {
	out, err := h.engine.BotTrades(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Statistics(c *gin.Context) {
	out, err := h.engine.BotStatistics(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
