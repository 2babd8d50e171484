package providers

import (
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// handleRooms lists rooms with member and typing counts.
func (r *Relay) handleRooms(c fiber.Ctx) error {
	rooms := r.hub.Rooms()
	return c.JSON(fiber.Map{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// handleClients lists connected clients.
func (r *Relay) handleClients(c fiber.Ctx) error {
	ids := r.hub.ConnectedClients()
	infos := make([]types.ClientInfo, 0, len(ids))
	for _, id := range ids {
		if info := r.hub.ClientInfo(id); info != nil {
			infos = append(infos, *info)
		}
	}
	return c.JSON(fiber.Map{
		"clients":     infos,
		"count":       len(infos),
		"rate_limits": r.limiter.Len(),
		"admissions":  r.admission.Len(),
	})
}
