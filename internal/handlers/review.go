package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/elkhoreby/shop-api/internal/apperr"
	authmw "github.com/elkhoreby/shop-api/internal/middleware/auth"
	"github.com/elkhoreby/shop-api/internal/models"
)

type ReviewHandler struct {
	DB *gorm.DB
}

func (h *ReviewHandler) ListForProduct(c echo.Context) error {
	productID, err := pathID(c)
	if err != nil {
		return err
	}

	var reviews []models.Review
	if err := h.DB.WithContext(c.Request().Context()).
		Where("product_id = ?", productID).
		Order("id DESC").
		Find(&reviews).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "list reviews", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":  "success",
		"results": len(reviews),
		"data":    echo.Map{"reviews": reviews},
	})
}

func (h *ReviewHandler) Create(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	productID, err := pathID(c)
	if err != nil {
		return err
	}

	var req struct {
		Review string `json:"review"`
		Rating uint   `json:"rating"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return apperr.New(apperr.Validation, "rating must be between 1 and 5")
	}

	ctx := c.Request().Context()

	var product models.Product
	if err := h.DB.WithContext(ctx).First(&product, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.NotFound, "product not found")
		}
		return apperr.Wrap(apperr.Internal, "load product", err)
	}

	review := models.Review{
		ProductID: productID,
		UserID:    userID,
		Review:    req.Review,
		Rating:    req.Rating,
	}
	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&review).Error; err != nil {
			return apperr.Wrap(apperr.Conflict, "you already reviewed this product", err)
		}
		return recomputeRatings(tx, productID)
	})
	if err != nil {
		return reviewTxErr(err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"status": "success",
		"data":   echo.Map{"review": review},
	})
}

func (h *ReviewHandler) Update(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	review, err := h.loadOwned(c, userID)
	if err != nil {
		return err
	}

	var req struct {
		Review string `json:"review"`
		Rating uint   `json:"rating"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}

	if req.Review != "" {
		review.Review = req.Review
	}
	if req.Rating != 0 {
		if req.Rating < 1 || req.Rating > 5 {
			return apperr.New(apperr.Validation, "rating must be between 1 and 5")
		}
		review.Rating = req.Rating
	}

	err = h.DB.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(review).Error; err != nil {
			return err
		}
		return recomputeRatings(tx, review.ProductID)
	})
	if err != nil {
		return reviewTxErr(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"review": review},
	})
}

func (h *ReviewHandler) Delete(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	review, err := h.loadOwned(c, userID)
	if err != nil {
		return err
	}

	err = h.DB.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(review).Error; err != nil {
			return err
		}
		return recomputeRatings(tx, review.ProductID)
	})
	if err != nil {
		return reviewTxErr(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// loadOwned fetches the review at :id and checks the caller owns it.
// Admins may touch any review.
func (h *ReviewHandler) loadOwned(c echo.Context, userID uint) (*models.Review, error) {
	id, err := pathID(c)
	if err != nil {
		return nil, err
	}

	var review models.Review
	if err := h.DB.WithContext(c.Request().Context()).First(&review, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "review not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "load review", err)
	}

	if review.UserID != userID && authmw.Role(c) != "admin" {
		return nil, apperr.New(apperr.Forbidden, "you can only modify your own reviews")
	}
	return &review, nil
}

// recomputeRatings refreshes the product aggregates inside the same
// transaction as the review mutation, so they can never drift from the
// rows they summarize.
func recomputeRatings(tx *gorm.DB, productID uint) error {
	var agg struct {
		Cnt int64
		Avg float64
	}
	if err := tx.Model(&models.Review{}).
		Select("COUNT(*) AS cnt, COALESCE(AVG(rating), 0) AS avg").
		Where("product_id = ?", productID).
		Scan(&agg).Error; err != nil {
		return err
	}

	updates := map[string]any{
		"ratings_quantity": agg.Cnt,
		"ratings_average":  agg.Avg,
	}
	if agg.Cnt == 0 {
		updates["ratings_average"] = 4.5
	}

	return tx.Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(updates).Error
}

func reviewTxErr(err error) error {
	if apperr.KindOf(err) != apperr.Internal {
		return err
	}
	return apperr.Wrap(apperr.Internal, "review mutation", err)
}
