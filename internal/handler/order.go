package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"

	"github.com/firehorse/bookstore/internal/domain/book"
	"github.com/firehorse/bookstore/internal/domain/order"
)

// orderResponse is the transport representation of a placed order. Monetary
// fields are exact decimal strings.
type orderResponse struct {
	ID          int64               `json:"id"`
	UserID      int64               `json:"userId"`
	OrderDate   string              `json:"orderDate"`
	TotalAmount string              `json:"totalAmount"`
	Status      string              `json:"status"`
	Items       []orderLineResponse `json:"items"`
	CreatedAt   time.Time           `json:"createdAt"`
}

type orderLineResponse struct {
	BookID    int64  `json:"bookId"`
	Title     string `json:"title"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

func toOrderResponse(o order.Order) orderResponse {
	items := make([]orderLineResponse, len(o.Lines))
	for i, line := range o.Lines {
		items[i] = orderLineResponse{
			BookID:    line.BookID,
			Title:     line.Title,
			UnitPrice: line.UnitPrice.StringFixed(2),
			Quantity:  line.Quantity,
		}
	}
	return orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		OrderDate:   o.OrderDate.Format(time.DateOnly),
		TotalAmount: o.Total.StringFixed(2),
		Status:      string(o.Status),
		Items:       items,
		CreatedAt:   o.CreatedAt,
	}
}

func (h *Handler) placeOrder(c *gin.Context) {
	userID, err := pathID(c, "userId")
	if err != nil {
		badRequest(c, err)
		return
	}

	o, err := h.orders.PlaceOrder(c.Request.Context(), userID)
	if err != nil {
		h.mapPlaceOrderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(*o))
}

// mapPlaceOrderError converts placement errors into specific HTTP replies:
// callers learn which book was short, not just that the order failed.
func (h *Handler) mapPlaceOrderError(c *gin.Context, err error) {
	var (
		notFound     *order.BookNotFoundError
		insufficient *book.InsufficientStockError
	)

	switch {
	case errors.Is(err, order.ErrEmptyCart):
		writeError(c, http.StatusBadRequest, "cart is empty")
	case errors.As(err, &notFound):
		writeError(c, http.StatusUnprocessableEntity, notFound.Error())
	case errors.As(err, &insufficient):
		writeError(c, http.StatusConflict, insufficient.Error())
	case errors.Is(err, order.ErrConflict):
		writeError(c, http.StatusConflict, order.ErrConflict.Error())
	default:
		internalError(c, err)
	}
}

func (h *Handler) listOrders(c *gin.Context) {
	userID, err := pathID(c, "userId")
	if err != nil {
		badRequest(c, err)
		return
	}

	orders, err := h.orders.ListByUser(c.Request.Context(), userID)
	if err != nil {
		internalError(c, err)
		return
	}

	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	c.JSON(http.StatusOK, out)
}

type updateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}

	var req updateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err = h.orders.UpdateStatus(c.Request.Context(), id, order.Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(c, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrInvalidTransition):
			writeError(c, http.StatusConflict, err.Error())
		default:
			internalError(c, err)
		}
		return
	}
	c.Status(http.StatusNoContent)
}
