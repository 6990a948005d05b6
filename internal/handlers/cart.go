package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/elkhoreby/shop-api/internal/apperr"
	"github.com/elkhoreby/shop-api/internal/models"
)

type CartHandler struct {
	DB *gorm.DB
}

func (h *CartHandler) GetCart(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	var items []models.CartItem
	if err := h.DB.WithContext(c.Request().Context()).
		Where("user_id = ?", userID).Find(&items).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "load cart", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"items": items},
	})
}

func (h *CartHandler) AddToCart(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	var req struct {
		ProductID uint `json:"product_id"`
		Quantity  uint `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	ctx := c.Request().Context()

	var product models.Product
	if err := h.DB.WithContext(ctx).First(&product, req.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.NotFound, "product not found")
		}
		return apperr.Wrap(apperr.Internal, "load product", err)
	}

	var item models.CartItem
	err = h.DB.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, req.ProductID).
		First(&item).Error
	switch {
	case err == nil:
		item.Quantity += req.Quantity
		if err := h.DB.WithContext(ctx).Save(&item).Error; err != nil {
			return apperr.Wrap(apperr.Internal, "update cart item", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		item = models.CartItem{UserID: userID, ProductID: req.ProductID, Quantity: req.Quantity}
		if err := h.DB.WithContext(ctx).Create(&item).Error; err != nil {
			return apperr.Wrap(apperr.Internal, "create cart item", err)
		}
	default:
		return apperr.Wrap(apperr.Internal, "load cart item", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"item": item},
	})
}

// DeleteOneFromCart decrements the quantity; the row disappears once it
// hits zero.
func (h *CartHandler) DeleteOneFromCart(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	productID, err := pathID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()

	var item models.CartItem
	if err := h.DB.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.NoContent(http.StatusNoContent)
		}
		return apperr.Wrap(apperr.Internal, "load cart item", err)
	}

	if item.Quantity > 1 {
		item.Quantity--
		if err := h.DB.WithContext(ctx).Save(&item).Error; err != nil {
			return apperr.Wrap(apperr.Internal, "update cart item", err)
		}
	} else if err := h.DB.WithContext(ctx).Delete(&item).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "delete cart item", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) DeleteAllFromCart(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	productID, err := pathID(c)
	if err != nil {
		return err
	}

	if err := h.DB.WithContext(c.Request().Context()).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Delete(&models.CartItem{}).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "delete cart item", err)
	}

	return c.NoContent(http.StatusNoContent)
}
