package handlers

import (
	"github.com/gin-gonic/gin"

	"support-chat/internal/middleware"
)

// Routes groups the handlers mounted on the public router.
type Routes struct {
	Chat     *ChatHandler
	Upload   *UploadHandler
	Settings *SettingsHandler
}

// Register mounts the chat transport. AdminIdentity must already be installed.
func (r Routes) Register(router gin.IRouter) {
	admin := middleware.RequireAdmin()

	router.GET("/chat", admin, r.Chat.ListSessions)
	router.POST("/chat", r.Chat.PostMessage)
	router.GET("/chat/:session_id", r.Chat.GetSession)
	router.PATCH("/chat/:session_id", r.Chat.PatchSession)
	router.POST("/chat/:session_id/read", admin, r.Chat.MarkRead)
	router.DELETE("/chat/:session_id", admin, r.Chat.DeleteSession)

	router.POST("/upload", r.Upload.Upload)

	router.GET("/settings/chat", r.Settings.GetChatSettings)
	router.PUT("/settings/chat", admin, r.Settings.UpdateChatSettings)

	router.GET("/healthz", Health)
}
