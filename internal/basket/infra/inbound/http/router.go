package http

import "github.com/gin-gonic/gin"

func RegisterBasketRoutes(r *gin.Engine, handler *BasketHandler) {
	baskets := r.Group("/baskets")
	{
		baskets.PUT("/:id", handler.UpsertBasket)
		baskets.GET("/:id", handler.GetBasket)
		baskets.DELETE("/:id", handler.DeleteBasket)
	}
}
