package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/elkhoreby/shop-api/internal/apperr"
	"github.com/elkhoreby/shop-api/internal/logging"
	"github.com/elkhoreby/shop-api/internal/models"
	"github.com/elkhoreby/shop-api/internal/mykafka"
	"github.com/elkhoreby/shop-api/internal/util"
)

type ProductHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
}

var sortFields = map[string]string{
	"price":     "price ASC",
	"-price":    "price DESC",
	"ratings":   "ratings_average ASC",
	"-ratings":  "ratings_average DESC",
	"created":   "created_at ASC",
	"-created":  "created_at DESC",
	"quantity":  "count ASC",
	"-quantity": "count DESC",
}

func (h *ProductHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "product_events", fmt.Sprint(event["productID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka_publish_failed", "error", err)
	}
}

func (h *ProductHandler) GetProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var product models.Product
	if err := h.DB.WithContext(c.Request().Context()).First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.NotFound, "product not found")
		}
		return apperr.Wrap(apperr.Internal, "load product", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"product": product},
	})
}

func (h *ProductHandler) GetProducts(c echo.Context) error {
	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	q := h.DB.WithContext(c.Request().Context()).Model(&models.Product{})
	if cat := c.QueryParam("category"); cat != "" {
		q = q.Where("category = ?", cat)
	}
	if brand := c.QueryParam("brand"); brand != "" {
		q = q.Where("brand = ?", brand)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "count products", err)
	}

	order := "id ASC"
	if by, ok := sortFields[c.QueryParam("sort")]; ok {
		order = by
	}

	var items []models.Product
	if err := q.Order(order).Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "list products", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"products": items},
		"meta": echo.Map{
			"page":        page,
			"size":        limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
			"has_prev":    page > 1,
			"has_next":    int64(offset+limit) < total,
		},
	})
}

type productBody struct {
	Category    string  `json:"category"`
	Brand       string  `json:"brand"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Count       uint    `json:"count"`
}

func (h *ProductHandler) CreateProduct(c echo.Context) error {
	var req productBody
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}
	if req.Title == "" || req.Price <= 0 {
		return apperr.New(apperr.Validation, "title and a positive price are required")
	}

	prod := models.Product{
		Category:    req.Category,
		Brand:       req.Brand,
		Title:       req.Title,
		Slug:        Slugify(req.Title),
		Description: req.Description,
		Price:       req.Price,
		Count:       req.Count,
	}
	if err := h.DB.WithContext(c.Request().Context()).Create(&prod).Error; err != nil {
		return apperr.Wrap(apperr.Conflict, "product title already exists", err)
	}

	h.publish(c, map[string]any{
		"type":      "product_created",
		"productID": prod.ID,
		"title":     prod.Title,
	})

	return c.JSON(http.StatusCreated, echo.Map{
		"status": "success",
		"data":   echo.Map{"product": prod},
	})
}

func (h *ProductHandler) UpdateProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req productBody
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}

	var prod models.Product
	if err := h.DB.WithContext(c.Request().Context()).First(&prod, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.NotFound, "product not found")
		}
		return apperr.Wrap(apperr.Internal, "load product", err)
	}

	if req.Category != "" {
		prod.Category = req.Category
	}
	if req.Brand != "" {
		prod.Brand = req.Brand
	}
	if req.Title != "" {
		prod.Title = req.Title
		prod.Slug = Slugify(req.Title)
	}
	if req.Description != "" {
		prod.Description = req.Description
	}
	if req.Price > 0 {
		prod.Price = req.Price
	}
	if req.Count > 0 {
		prod.Count = req.Count
	}

	if err := h.DB.WithContext(c.Request().Context()).Save(&prod).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "update product", err)
	}

	h.publish(c, map[string]any{
		"type":      "product_updated",
		"productID": prod.ID,
		"title":     prod.Title,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"product": prod},
	})
}

func (h *ProductHandler) DeleteProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	res := h.DB.WithContext(c.Request().Context()).Delete(&models.Product{}, id)
	if res.Error != nil {
		return apperr.Wrap(apperr.Internal, "delete product", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "product not found")
	}

	h.publish(c, map[string]any{
		"type":      "product_deleted",
		"productID": id,
	})

	return c.NoContent(http.StatusNoContent)
}

// Slugify lowercases the title and collapses everything that is not a
// letter or digit into single hyphens.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
