package roomhandler

import (
	"errors"
	"net/http"

	"crowsignal/internal/services/roomaccess"
	"crowsignal/internal/ws"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc      roomaccess.IRoomAccessService
	registry *ws.Registry
}

func New(svc roomaccess.IRoomAccessService, registry *ws.Registry) *Handler {
	return &Handler{svc: svc, registry: registry}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/rooms", h.list)
	r.GET("/rooms/:id", h.info)
	r.GET("/rooms/:id/presence", h.presence)
	r.POST("/rooms", h.create)
	r.POST("/rooms/:id/deactivate", h.deactivate)
}

// @Summary		Get room details
// @Description	Returns full information about a single meeting room.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{object}	roomaccess.RoomDTO
// @Failure		404	{object}	ErrorResponse
// @Router			/rooms/{id} [get]
func (h *Handler) info(c *gin.Context) {
	dto, err := h.svc.GetRoom(c, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto)
}

// @Summary		List rooms
// @Description	Retrieves a paginated list of meeting rooms.
// @Tags			Rooms
// @Param			active	query		bool	false	"Only active rooms"	default(true)
// @Param			limit	query		int		false	"Max results (0-100)"	minimum(0)	maximum(100)	default(10)
// @Param			offset	query		int		false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200		{array}		roomaccess.RoomDTO
// @Failure		400		{object}	ErrorResponse
// @Failure		500		{object}	ErrorResponse
// @Router			/rooms [get]
func (h *Handler) list(c *gin.Context) {
	var q ListRoomsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.svc.ListRooms(c, q.Active, q.Limit, q.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Live presence roster
// @Description	Who is in the room right now: this instance's connections plus the cluster-wide occupancy map.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{object}	PresenceResponse
// @Failure		500	{object}	ErrorResponse
// @Router			/rooms/{id}/presence [get]
func (h *Handler) presence(ginCtx *gin.Context) {
	roomID := ginCtx.Param("id")

	cluster, err := h.svc.Occupancy(ginCtx.Request.Context(), roomID)
	if err != nil {
		ginCtx.JSON(http.StatusInternalServerError, &ErrorResponse{Error: err.Error()})
		return
	}
	local := h.registry.Occupants(roomID)
	if local == nil {
		local = []ws.Occupant{}
	}
	ginCtx.JSON(http.StatusOK, PresenceResponse{
		RoomID:    roomID,
		Occupancy: len(cluster),
		Local:     local,
		Cluster:   cluster,
	})
}

// @Summary		Create or reactivate a room
// @Description	Upserts a meeting room; joining an expired room brings it back active.
// @Tags			Rooms
// @Param			body	body	CreateRoomBody	true	"Room payload"
// @Success		201	{object}	roomaccess.RoomDTO
// @Failure		400	{object}	ErrorResponse
// @Router			/rooms [post]
func (h *Handler) create(ginCtx *gin.Context) {
	var body CreateRoomBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}

	dto, err := h.svc.CreateRoom(ginCtx.Request.Context(),
		body.Name, body.HostID, body.RoomType, body.Password, body.MaxParticipants)
	if err != nil {
		ginCtx.JSON(http.StatusConflict, &ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusCreated, dto)
}

// @Summary		Deactivate a room
// @Description	Marks the room inactive; new connections are refused until it is recreated.
// @Tags			Rooms
// @Param			id	path	string	true	"Room ID"
// @Success		202
// @Failure		404	{object}	ErrorResponse
// @Router			/rooms/{id}/deactivate [post]
func (h *Handler) deactivate(ginCtx *gin.Context) {
	roomID := ginCtx.Param("id")

	if _, err := h.svc.GetRoom(ginCtx.Request.Context(), roomID); err != nil {
		status := http.StatusConflict
		if errors.Is(err, roomaccess.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		ginCtx.JSON(status, &ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.svc.Deactivate(ginCtx.Request.Context(), roomID); err != nil {
		ginCtx.JSON(http.StatusInternalServerError, &ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.Status(http.StatusAccepted)
}
