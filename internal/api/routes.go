package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes はハンドラーをルーターに登録します。limit は受け付け系のエンドポイントにだけ掛けます。
func RegisterRoutes(router gin.IRouter, h *Handler, limit gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.GET("/stats", h.Stats)

	writes := []gin.HandlerFunc{}
	if limit != nil {
		writes = append(writes, limit)
	}
	router.POST("/upload", append(writes, h.Upload)...)
	router.POST("/download-all", append(writes, h.DownloadAll)...)

	router.GET("/status/:id", h.Status)
	router.GET("/download/:id", h.Download)
	router.GET("/jobs", h.History)
}
