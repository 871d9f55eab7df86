package auth

import "github.com/gin-gonic/gin"

// RegisterRoutes registers auth routes
func RegisterRoutes(router *gin.RouterGroup, handler *Handler) {
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/reviewer-token", handler.IssueToken)
	}
}
