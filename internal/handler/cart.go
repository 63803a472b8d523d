package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"

	"github.com/firehorse/bookstore/internal/domain/book"
	"github.com/firehorse/bookstore/internal/domain/cart"
)

type cartItemResponse struct {
	ID       int64 `json:"id"`
	UserID   int64 `json:"userId"`
	BookID   int64 `json:"bookId"`
	Quantity int   `json:"quantity"`
}

func toCartItemResponse(item cart.Item) cartItemResponse {
	return cartItemResponse{
		ID:       item.ID,
		UserID:   item.UserID,
		BookID:   item.BookID,
		Quantity: item.Quantity,
	}
}

type addToCartRequest struct {
	UserID   int64 `json:"userId" binding:"required,gt=0"`
	BookID   int64 `json:"bookId" binding:"required,gt=0"`
	Quantity int   `json:"quantity" binding:"required,gt=0"`
}

func (h *Handler) addToCart(c *gin.Context) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.carts.Add(c.Request.Context(), req.UserID, req.BookID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, book.ErrNotFound):
			writeError(c, http.StatusNotFound, "book not found")
		case errors.Is(err, cart.ErrInvalidQuantity):
			writeError(c, http.StatusBadRequest, err.Error())
		default:
			internalError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, toCartItemResponse(*item))
}

func (h *Handler) getCart(c *gin.Context) {
	userID, err := pathID(c, "userId")
	if err != nil {
		badRequest(c, err)
		return
	}

	items, err := h.carts.Items(c.Request.Context(), userID)
	if err != nil {
		internalError(c, err)
		return
	}

	out := make([]cartItemResponse, len(items))
	for i, item := range items {
		out[i] = toCartItemResponse(item)
	}
	c.JSON(http.StatusOK, out)
}

type updateQuantityRequest struct {
	// Zero and negative values delete the item rather than erroring, so no
	// positivity constraint here.
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartQuantity(c *gin.Context) {
	itemID, err := pathID(c, "itemId")
	if err != nil {
		badRequest(c, err)
		return
	}

	var req updateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.carts.SetQuantity(c.Request.Context(), itemID, req.Quantity); err != nil {
		if errors.Is(err, cart.ErrItemNotFound) {
			writeError(c, http.StatusNotFound, "cart item not found")
			return
		}
		internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeFromCart(c *gin.Context) {
	itemID, err := pathID(c, "itemId")
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := h.carts.Remove(c.Request.Context(), itemID); err != nil {
		if errors.Is(err, cart.ErrItemNotFound) {
			writeError(c, http.StatusNotFound, "cart item not found")
			return
		}
		internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearCart(c *gin.Context) {
	userID, err := pathID(c, "userId")
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := h.carts.Clear(c.Request.Context(), userID); err != nil {
		internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
