package http

import "github.com/gin-gonic/gin"

func RegisterOrderRoutes(r *gin.Engine, handler *OrderHandler) {
	orders := r.Group("/orders")
	{
		orders.POST("", handler.Checkout)
		orders.GET("/:id", handler.GetOrder)
		orders.POST("/:id/complete", handler.CompleteOrder)
		orders.POST("/:id/cancel", handler.CancelOrder)
		orders.DELETE("/:id", handler.DeleteOrder)
	}
}
