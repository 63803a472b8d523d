package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/firehorse/bookstore/internal/domain/book"
)

// bookResponse is the transport representation of a catalog book. Price is
// an exact decimal string, never a float.
type bookResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Stock       int    `json:"stock"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

func toBookResponse(b book.Book) bookResponse {
	return bookResponse{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Category:    b.Category,
		Description: b.Description,
		Price:       b.Price.StringFixed(2),
		Stock:       b.Stock,
		ImageURL:    b.ImageURL,
	}
}

func toBookResponses(books []book.Book) []bookResponse {
	out := make([]bookResponse, len(books))
	for i, b := range books {
		out[i] = toBookResponse(b)
	}
	return out
}

func (h *Handler) listBooks(c *gin.Context) {
	books, err := h.books.List(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookResponses(books))
}

func (h *Handler) searchBooks(c *gin.Context) {
	books, err := h.books.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookResponses(books))
}

func (h *Handler) getBook(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}

	b, err := h.books.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, book.ErrNotFound) {
			writeError(c, http.StatusNotFound, "book not found")
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookResponse(*b))
}

// createBookRequest carries the admin catalog-create payload. Price arrives
// as a decimal string and is validated to be non-negative.
type createBookRequest struct {
	Title       string `json:"title" binding:"required"`
	Author      string `json:"author"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Price       string `json:"price" binding:"required"`
	Stock       int    `json:"stock" binding:"gte=0"`
	ImageURL    string `json:"imageUrl"`
}

func (h *Handler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		writeError(c, http.StatusBadRequest, "price must be a non-negative decimal")
		return
	}

	b := &book.Book{
		Title:       req.Title,
		Author:      req.Author,
		Category:    req.Category,
		Description: req.Description,
		Price:       price,
		Stock:       req.Stock,
		ImageURL:    req.ImageURL,
	}
	if err := h.books.Create(c.Request.Context(), b); err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBookResponse(*b))
}

type updateStockRequest struct {
	Stock int `json:"stock" binding:"gte=0"`
}

func (h *Handler) updateBookStock(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}

	var req updateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	b, err := h.books.UpdateStock(c.Request.Context(), id, req.Stock)
	if err != nil {
		if errors.Is(err, book.ErrNotFound) {
			writeError(c, http.StatusNotFound, "book not found")
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookResponse(*b))
}

func (h *Handler) deleteBook(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := h.books.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, book.ErrNotFound) {
			writeError(c, http.StatusNotFound, "book not found")
			return
		}
		internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid %s", name)
	}
	return id, nil
}
