// Package handler exposes the bookstore API over HTTP using gin. Handlers
// convert transport DTOs to domain calls and map domain errors to statuses;
// business rules live in the domain services.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/firehorse/bookstore/internal/auth"
	"github.com/firehorse/bookstore/internal/domain/book"
	"github.com/firehorse/bookstore/internal/domain/cart"
	"github.com/firehorse/bookstore/internal/domain/order"
	"github.com/firehorse/bookstore/internal/domain/user"
)

// Handler holds the domain dependencies behind the HTTP routes.
type Handler struct {
	books  book.Repository
	carts  *cart.Service
	orders *order.Service
	users  *user.Service
	tokens *auth.Manager
}

// New constructs a Handler with the required domain dependencies.
func New(
	books book.Repository,
	carts *cart.Service,
	orders *order.Service,
	users *user.Service,
	tokens *auth.Manager,
) *Handler {
	return &Handler{
		books:  books,
		carts:  carts,
		orders: orders,
		users:  users,
		tokens: tokens,
	}
}

// Routes builds the gin engine with all API routes mounted under /api.
// The engine carries no gin middleware of its own; recovery, logging, CORS,
// and rate limiting wrap the whole server at the net/http level.
func (h *Handler) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	api := engine.Group("/api")

	books := api.Group("/books")
	books.GET("", h.listBooks)
	books.GET("/search", h.searchBooks)
	books.GET("/:id", h.getBook)
	books.POST("", RequireAuth(h.tokens), h.createBook)
	books.PUT("/:id/stock", RequireAuth(h.tokens), h.updateBookStock)
	books.DELETE("/:id", RequireAuth(h.tokens), h.deleteBook)

	carts := api.Group("/cart")
	carts.POST("/add", h.addToCart)
	carts.GET("/user/:userId", h.getCart)
	carts.PUT("/update/:itemId", h.updateCartQuantity)
	carts.DELETE("/remove/:itemId", h.removeFromCart)
	carts.DELETE("/clear/:userId", h.clearCart)

	orders := api.Group("/orders")
	orders.POST("/place/:userId", h.placeOrder)
	orders.GET("/user/:userId", h.listOrders)
	orders.PUT("/:id/status", RequireAuth(h.tokens), h.updateOrderStatus)

	users := api.Group("/users")
	users.POST("/register", h.register)
	users.POST("/login", h.login)
	users.GET("/:id", h.getUser)

	return engine
}

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    status,
		Message: message,
	})
}

func badRequest(c *gin.Context, err error) {
	writeError(c, http.StatusBadRequest, err.Error())
}

func internalError(c *gin.Context, err error) {
	// Internal details stay out of responses; the logging middleware has the
	// wrapped error via c.Error.
	_ = c.Error(err)
	writeError(c, http.StatusInternalServerError, "internal server error")
}
