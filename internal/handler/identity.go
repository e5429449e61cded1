package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity headers are set by the authenticating gateway in front of this service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderVendorID = "X-Vendor-ID"
	HeaderRole     = "X-Role"

	RoleAdmin = "admin"
)

func isAdmin(c *gin.Context) bool {
	return strings.EqualFold(strings.TrimSpace(c.GetHeader(HeaderRole)), RoleAdmin)
}

// headerID parses an identity header. ok is false when the response has
// already been written.
func headerID(c *gin.Context, header string) (uuid.UUID, bool) {
	raw := strings.TrimSpace(c.GetHeader(header))
	if raw == "" {
		respondStatus(c, http.StatusUnauthorized, "unauthorized", header+" header is missing")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondStatus(c, http.StatusUnauthorized, "unauthorized", header+" header is not a valid id")
		return uuid.Nil, false
	}
	return id, true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			respondStatus(c, http.StatusForbidden, "forbidden", "administrator role required")
			return
		}
		c.Next()
	}
}
