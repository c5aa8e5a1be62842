package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// VersionInfo holds build information set at link time.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// VersionHandler serves build information.
type VersionHandler struct {
	info VersionInfo
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(info VersionInfo) *VersionHandler {
	if info.Version == "" {
		info.Version = "dev"
	}
	return &VersionHandler{info: info}
}

// RegisterPublicRoutes registers the version route.
func (h *VersionHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/version", h.Version)
}

// Version returns the server build information.
// GET /version
func (h *VersionHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.info)
}
