package http

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/Pairing/internal/app/orch"
	"github.com/dkeye/Pairing/internal/config"
	"github.com/dkeye/Pairing/internal/core"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	cfg   *config.Config
	orch  *orch.Orchestrator
	store store.CodeStore
}

type CreateSessionResponse struct {
	Code      domain.SessionCode `json:"code"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

type SessionResponse struct {
	Code         domain.SessionCode   `json:"code"`
	CreatedAt    time.Time            `json:"createdAt,omitzero"`
	Active       bool                 `json:"active"`
	Participants []domain.Participant `json:"participants"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) createSession(c *gin.Context) {
	code, err := store.NewCode(c.Request.Context(), h.store, h.cfg.CodeTTL)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("reserve session code")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not allocate session code"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("code", string(code)).Msg("session code reserved")
	c.JSON(http.StatusCreated, CreateSessionResponse{Code: code, ExpiresAt: h.orch.Clock.Now().Add(h.cfg.CodeTTL)})
}

func (h *handlers) listSessions(c *gin.Context) {
	rooms := h.orch.Rooms.List()
	slices.SortFunc(rooms, func(a, b core.RoomInfo) int { return strings.Compare(string(a.Code), string(b.Code)) })
	c.JSON(http.StatusOK, gin.H{"sessions": rooms})
}

func (h *handlers) getSession(c *gin.Context) {
	code, err := domain.ParseSessionCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if room, ok := h.orch.Rooms.GetRoom(code); ok {
		c.JSON(http.StatusOK, SessionResponse{
			Code:         code,
			CreatedAt:    room.Session().CreatedAt,
			Active:       true,
			Participants: room.Roster(),
		})
		return
	}
	reserved, err := h.store.Exists(c.Request.Context(), code)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("lookup session code")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	if !reserved {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Code: code, Participants: []domain.Participant{}})
}

func (h *handlers) evictSession(c *gin.Context) {
	code, err := domain.ParseSessionCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := h.orch.EvictRoom(code)
	if err != nil && !errors.Is(err, orch.ErrNoSuchSession) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rerr := h.store.Release(c.Request.Context(), code); rerr != nil {
		log.Warn().Err(rerr).Str("module", "adapters.http").Str("code", string(code)).Msg("release session code")
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"evicted": n})
}

func (h *handlers) iceServers(c *gin.Context) {
	servers := h.cfg.ICEServers
	if servers == nil {
		servers = []config.ICEServer{}
	}
	c.JSON(http.StatusOK, gin.H{"iceServers": servers})
}
