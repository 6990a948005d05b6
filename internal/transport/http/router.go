package http

import (
	"github.com/labstack/echo/v4"

	"github.com/elkhoreby/shop-api/internal/handlers"
	authmw "github.com/elkhoreby/shop-api/internal/middleware/auth"
)

type Handlers struct {
	Auth    *handlers.AuthHandler
	User    *handlers.UserHandler
	Product *handlers.ProductHandler
	Cart    *handlers.CartHandler
	Order   *handlers.OrderHandler
	Review  *handlers.ReviewHandler
	Search  *handlers.SearchHandler
	Health  *handlers.HealthHandler
}

// Register mounts the whole API under /api/v1. Route shape mirrors the
// auth model: public, cookie-driven, bearer-protected, then admin-only.
func Register(e *echo.Echo, h Handlers, gate *authmw.Gate) {
	e.GET("/health/live", h.Health.Live)
	e.GET("/health/ready", h.Health.Ready)

	v1 := e.Group("/api/v1")

	users := v1.Group("/users")
	users.POST("/signup", h.Auth.Signup)
	users.POST("/login", h.Auth.Login)
	users.GET("/refresh", h.Auth.Refresh)
	users.POST("/logout", h.Auth.Logout)
	users.POST("/forgotPassword", h.Auth.ForgotPassword)
	users.PATCH("/resetPassword/:token", h.Auth.ResetPassword)

	me := v1.Group("/users", gate.Protect)
	me.PATCH("/updateMyPassword", h.Auth.UpdatePassword)
	me.GET("/me", h.User.Me)
	me.PATCH("/updateMe", h.User.UpdateMe)
	me.DELETE("/deleteMe", h.User.DeleteMe)

	admin := v1.Group("/admin", gate.Protect, authmw.RestrictTo("admin"))
	admin.GET("/users", h.User.ListUsers)
	admin.GET("/users/:id", h.User.GetUser)
	admin.PATCH("/users/:id", h.User.UpdateUser)
	admin.DELETE("/users/:id", h.User.DeleteUser)
	admin.POST("/products", h.Product.CreateProduct)
	admin.PATCH("/products/:id", h.Product.UpdateProduct)
	admin.DELETE("/products/:id", h.Product.DeleteProduct)
	admin.GET("/orders", h.Order.ListAll)
	admin.PATCH("/orders/:id/status", h.Order.UpdateStatus)

	v1.GET("/products", h.Product.GetProducts)
	v1.GET("/products/:id", h.Product.GetProduct)
	v1.GET("/products/:id/reviews", h.Review.ListForProduct)
	v1.GET("/search", h.Search.Search)

	reviews := v1.Group("", gate.Protect)
	reviews.POST("/products/:id/reviews", h.Review.Create)
	reviews.PATCH("/reviews/:id", h.Review.Update)
	reviews.DELETE("/reviews/:id", h.Review.Delete)

	cart := v1.Group("/cart", gate.Protect)
	cart.GET("", h.Cart.GetCart)
	cart.POST("", h.Cart.AddToCart)
	cart.DELETE("/:id", h.Cart.DeleteOneFromCart)
	cart.DELETE("/:id/all", h.Cart.DeleteAllFromCart)

	orders := v1.Group("/orders", gate.Protect)
	orders.POST("/checkout", h.Order.Checkout)
	orders.GET("", h.Order.ListMine)
}
