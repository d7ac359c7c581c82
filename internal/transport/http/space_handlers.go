package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/atrium-space/atrium-server/internal/core"
	"github.com/atrium-space/atrium-server/internal/geo"
	"github.com/atrium-space/atrium-server/internal/store"
)

// SpaceHandlers provides HTTP handlers for the catalog and the read-side
// presence queries.
type SpaceHandlers struct {
	engine *core.Engine
	store  store.Store
	log    *zerolog.Logger
}

// NewSpaceHandlers creates a new space handlers instance.
func NewSpaceHandlers(engine *core.Engine, st store.Store, logger *zerolog.Logger) *SpaceHandlers {
	return &SpaceHandlers{engine: engine, store: st, log: logger}
}

// SpaceResponse represents a catalog space in API responses.
type SpaceResponse struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	SpawnX float64 `json:"spawn_x"`
	SpawnY float64 `json:"spawn_y"`
}

// AreaResponse represents an area definition in API responses.
type AreaResponse struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Outline geo.Polygon `json:"outline"`
	Private bool        `json:"private,omitempty"`
}

// CreateSpaceRequest represents the space creation body.
type CreateSpaceRequest struct {
	ID     string  `json:"id" binding:"required"`
	Name   string  `json:"name" binding:"required"`
	SpawnX float64 `json:"spawn_x"`
	SpawnY float64 `json:"spawn_y"`
	Areas  []struct {
		ID      string        `json:"id" binding:"required"`
		Name    string        `json:"name"`
		Outline geo.Polygon   `json:"outline" binding:"required"`
		Walls   []geo.Segment `json:"walls"`
		Private bool          `json:"private"`
	} `json:"areas"`
}

// ListSpaces returns the space catalog.
// GET /api/spaces
func (h *SpaceHandlers) ListSpaces(c *gin.Context) {
	spaces, err := h.store.ListSpaces(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list spaces")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]SpaceResponse, 0, len(spaces))
	for _, s := range spaces {
		response = append(response, SpaceResponse{
			ID:     s.ID,
			Name:   s.Name,
			SpawnX: s.SpawnX,
			SpawnY: s.SpawnY,
		})
	}
	c.JSON(http.StatusOK, response)
}

// ListAreas returns the area definitions of a space.
// GET /api/spaces/:space/areas
func (h *SpaceHandlers) ListAreas(c *gin.Context) {
	areas, err := h.store.ListAreas(c.Request.Context(), c.Param("space"))
	if err != nil {
		h.log.Error().Err(err).Str("space", c.Param("space")).Msg("failed to list areas")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]AreaResponse, 0, len(areas))
	for _, a := range areas {
		response = append(response, AreaResponse{
			ID:      a.ID,
			Name:    a.Name,
			Outline: a.Outline,
			Private: a.Private,
		})
	}
	c.JSON(http.StatusOK, response)
}

// CreateSpace registers a space with its areas in the catalog.
// POST /api/spaces
func (h *SpaceHandlers) CreateSpace(c *gin.Context) {
	var req CreateSpaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create space request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	err := h.store.CreateSpace(ctx, &store.Space{
		ID:     req.ID,
		Name:   req.Name,
		SpawnX: req.SpawnX,
		SpawnY: req.SpawnY,
	})
	if err != nil {
		h.log.Error().Err(err).Str("space", req.ID).Msg("failed to create space")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	for _, a := range req.Areas {
		err := h.store.CreateArea(ctx, &store.Area{
			ID:      a.ID,
			SpaceID: req.ID,
			Name:    a.Name,
			Outline: a.Outline,
			Walls:   a.Walls,
			Private: a.Private,
		})
		if err != nil {
			h.log.Error().Err(err).Str("area", a.ID).Msg("failed to create area")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
	}

	h.log.Info().Str("space", req.ID).Int("areas", len(req.Areas)).Msg("space created")
	c.JSON(http.StatusCreated, SpaceResponse{ID: req.ID, Name: req.Name, SpawnX: req.SpawnX, SpawnY: req.SpawnY})
}

// DeleteSpace evicts all members and removes a space from the catalog.
// DELETE /api/spaces/:space
func (h *SpaceHandlers) DeleteSpace(c *gin.Context) {
	if err := h.engine.DeleteSpace(c.Request.Context(), c.Param("space")); err != nil {
		h.log.Error().Err(err).Str("space", c.Param("space")).Msg("failed to delete space")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// SpaceOccupants returns the live occupants of a space.
// GET /api/spaces/:space/occupants
func (h *SpaceHandlers) SpaceOccupants(c *gin.Context) {
	occupants := h.engine.OccupantsOf(core.SpaceLocation(c.Param("space")))
	c.JSON(http.StatusOK, occupants)
}

// AreaOccupants returns the live occupants of one area.
// GET /api/spaces/:space/areas/:area/occupants
func (h *SpaceHandlers) AreaOccupants(c *gin.Context) {
	occupants := h.engine.OccupantsOf(core.AreaLocation(c.Param("space"), c.Param("area")))
	c.JSON(http.StatusOK, occupants)
}

// Presence returns the durable presence record of an identity.
// GET /api/presence/:identity
func (h *SpaceHandlers) Presence(c *gin.Context) {
	identity, err := strconv.ParseInt(c.Param("identity"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid identity"})
		return
	}

	pr, ok := h.engine.PresenceOf(identity)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no presence record"})
		return
	}
	c.JSON(http.StatusOK, pr)
}

// Stats returns the cached aggregate statistics.
// GET /api/stats
func (h *SpaceHandlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Stats())
}

// History returns recent messages of a channel scope, falling back to the
// archive when the channel is currently drained.
// GET /api/spaces/:space/areas/:area/channels/:channel/history?limit=50
func (h *SpaceHandlers) History(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	scope := core.ChannelLocation(c.Param("space"), c.Param("area"), c.Param("channel"))
	msgs, err := h.engine.ChannelHistory(c.Request.Context(), scope, limit)
	if err != nil {
		if errors.Is(err, core.ErrNotAMember) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "not a channel scope"})
			return
		}
		h.log.Error().Err(err).Str("channel", scope.String()).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}
