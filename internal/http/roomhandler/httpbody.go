package roomhandler

import "crowsignal/internal/ws"

type CreateRoomBody struct {
	Name            string `json:"name"      binding:"required"            example:"Standup"`
	HostID          string `json:"host_id"   binding:"required"            example:"user123"`
	RoomType        string `json:"room_type" binding:"omitempty,oneof=public private" example:"public"`
	Password        string `json:"password"  binding:"omitempty"`
	MaxParticipants int    `json:"max_participants" binding:"gte=0,lte=100" example:"10"`
} // @name CreateRoomRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type ListRoomsQuery struct {
	Active bool `form:"active,default=true"`
	Limit  int  `form:"limit,default=10"  binding:"gte=0,lte=100"`
	Offset int  `form:"offset,default=0"  binding:"gte=0"`
} // @name ListRoomsQuery

type PresenceResponse struct {
	RoomID    string        `json:"room_id"`
	Occupancy int           `json:"occupancy"`
	Local     []ws.Occupant `json:"local"`
	// Handles known cluster-wide mapped to user ids; a superset of
	// Local when more than one instance serves the room.
	Cluster map[string]string `json:"cluster"`
} // @name PresenceResponse
