package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/roomcall/internal/middleware"
	"github.com/mossy-p/roomcall/internal/models"
)

// CreateRoom reserves a room and returns its shareable code (requires authentication)
func (h *Handler) CreateRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	room, err := h.rooms.Reserve(c.Request.Context(), req.Name, userID)
	if errors.Is(err, models.ErrRoomReserved) {
		c.JSON(http.StatusConflict, gin.H{"error": "Room name already reserved"})
		return
	}
	if err != nil {
		h.log.Errorf("reserve room %q: %v", req.Name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	h.log.Infof("room reserved: %s (code: %s) by user %s", room.Name, room.Code, userID)

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		Name: room.Name,
		Code: room.Code,
	})
}

// ListRooms returns every live room with its roster (public)
func (h *Handler) ListRooms(c *gin.Context) {
	names := h.relay.Rooms()
	sort.Strings(names)

	out := make([]models.RoomInfo, 0, len(names))
	for _, name := range names {
		members := h.relay.Members(name)
		if len(members) == 0 {
			continue
		}
		out = append(out, models.RoomInfo{Name: name, Members: members})
	}
	c.JSON(http.StatusOK, out)
}

// GetRoom returns reservation metadata and live members by room name or code (public)
func (h *Handler) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()
	name := h.resolveRoom(ctx, c.Param("room"))

	info := models.RoomInfo{Name: name, Members: h.relay.Members(name)}
	reserved, err := h.rooms.Get(ctx, name)
	switch {
	case err == nil:
		info.Reserved = reserved
	case !errors.Is(err, models.ErrReservationNotFound):
		h.log.Errorf("get reservation %s: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	if info.Reserved == nil && len(info.Members) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if info.Members == nil {
		info.Members = []models.Member{}
	}
	c.JSON(http.StatusOK, info)
}

// DeleteRoom drops a reservation (requires authentication and creator).
// Live members are not disconnected.
func (h *Handler) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx := c.Request.Context()
	name := h.resolveRoom(ctx, c.Param("room"))

	room, err := h.rooms.Get(ctx, name)
	if errors.Is(err, models.ErrReservationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		h.log.Errorf("get reservation %s: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	// Verify user is the creator
	if room.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if err := h.rooms.Delete(ctx, name); err != nil && !errors.Is(err, models.ErrReservationNotFound) {
		h.log.Errorf("delete reservation %s: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	h.log.Infof("room reservation deleted: %s by user %s", name, userID)

	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// resolveRoom maps a reservation code to its room name. Anything else is
// returned unchanged.
func (h *Handler) resolveRoom(ctx context.Context, identifier string) string {
	if !models.IsRoomCode(identifier) {
		return identifier
	}
	name, err := h.rooms.Resolve(ctx, identifier)
	if err != nil {
		if !errors.Is(err, models.ErrReservationNotFound) {
			h.log.Warnf("resolve room code %s: %v", identifier, err)
		}
		return identifier
	}
	return name
}
