package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/elkhoreby/shop-api/internal/apperr"
	"github.com/elkhoreby/shop-api/internal/logging"
	"github.com/elkhoreby/shop-api/internal/models"
	"github.com/elkhoreby/shop-api/internal/mykafka"
	"github.com/elkhoreby/shop-api/internal/util"
)

type OrderHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
}

var validOrderStatuses = map[string]struct{}{
	models.OrderPendingPayment: {},
	models.OrderPreparing:      {},
	models.OrderShipping:       {},
	models.OrderCompleted:      {},
	models.OrderCanceled:       {},
}

// Checkout turns the whole cart into an order inside one transaction:
// stock is decremented per item and the cart is emptied, or nothing
// happens at all.
func (h *OrderHandler) Checkout(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	var order models.Order

	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var items []models.CartItem
		if err := tx.Where("user_id = ?", userID).Find(&items).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return apperr.New(apperr.Validation, "cart is empty")
		}

		order = models.Order{
			UserID: userID,
			Status: models.OrderPendingPayment,
		}

		var orderItems []models.OrderItem
		for _, it := range items {
			var product models.Product
			if err := tx.First(&product, it.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.New(apperr.NotFound, fmt.Sprintf("product %d no longer exists", it.ProductID))
				}
				return err
			}

			// Conditional decrement: the WHERE clause is the stock check,
			// so two concurrent checkouts cannot both spend the same units.
			res := tx.Model(&models.Product{}).
				Where("id = ? AND count >= ?", product.ID, it.Quantity).
				UpdateColumn("count", gorm.Expr("count - ?", it.Quantity))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.New(apperr.Conflict, fmt.Sprintf("not enough stock for %q", product.Title))
			}

			orderItems = append(orderItems, models.OrderItem{
				UserID:    userID,
				ProductID: product.ID,
				Quantity:  it.Quantity,
				Price:     product.Price,
			})
			order.Total += product.Price * float64(it.Quantity)
		}

		order.Items = orderItems
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		return tx.Where("user_id = ?", userID).Delete(&models.CartItem{}).Error
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.Internal {
			return err
		}
		return apperr.Wrap(apperr.Internal, "checkout", err)
	}

	h.publishOrder(c, map[string]any{
		"type":    "order_created",
		"orderID": order.ID,
		"userID":  userID,
		"total":   order.Total,
	})

	return c.JSON(http.StatusCreated, echo.Map{
		"status": "success",
		"data":   echo.Map{"order": order},
	})
}

func (h *OrderHandler) ListMine(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	var orders []models.Order
	if err := h.DB.WithContext(c.Request().Context()).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&orders).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "list orders", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"orders": orders},
	})
}

func (h *OrderHandler) ListAll(c echo.Context) error {
	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	q := h.DB.WithContext(c.Request().Context()).Model(&models.Order{})
	if status := c.QueryParam("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "count orders", err)
	}

	var orders []models.Order
	if err := q.Preload("Items").Order("id DESC").
		Offset(offset).Limit(limit).Find(&orders).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "list orders", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"total":  total,
		"data":   echo.Map{"orders": orders},
	})
}

func (h *OrderHandler) UpdateStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}
	if _, ok := validOrderStatuses[req.Status]; !ok {
		return apperr.New(apperr.Validation, "unknown order status")
	}

	res := h.DB.WithContext(c.Request().Context()).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("status", req.Status)
	if res.Error != nil {
		return apperr.Wrap(apperr.Internal, "update order", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "order not found")
	}

	h.publishOrder(c, map[string]any{
		"type":    "order_status_changed",
		"orderID": id,
		"status":  req.Status,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"order_status": req.Status},
	})
}

func (h *OrderHandler) publishOrder(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "order_events", fmt.Sprint(event["orderID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka_publish_failed", "error", err)
	}
}
