package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/elkhoreby/shop-api/internal/apperr"
	authmw "github.com/elkhoreby/shop-api/internal/middleware/auth"
	"github.com/elkhoreby/shop-api/internal/repo"
	"github.com/elkhoreby/shop-api/internal/util"
)

type UserHandler struct {
	Repo *repo.Repo
}

func currentUserID(c echo.Context) (uint, error) {
	id, ok := authmw.UserID(c)
	if !ok {
		return 0, apperr.New(apperr.Unauthenticated, "you are not logged in")
	}
	return id, nil
}

func (h *UserHandler) Me(c echo.Context) error {
	id, err := currentUserID(c)
	if err != nil {
		return err
	}

	user, err := h.Repo.FindByID(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"user": user},
	})
}

// UpdateMe changes name and email only. Password and role travel through
// their own routes; a body naming either is rejected outright rather than
// silently filtered.
func (h *UserHandler) UpdateMe(c echo.Context) error {
	id, err := currentUserID(c)
	if err != nil {
		return err
	}

	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}
	if req.Password != "" {
		return apperr.New(apperr.Validation, "this route is not for password updates, please use /updateMyPassword")
	}
	if req.Role != "" {
		return apperr.New(apperr.Validation, "role cannot be changed through this route")
	}

	user, err := h.Repo.UpdateProfile(c.Request().Context(), id, req.Name, req.Email)
	if err != nil {
		return mapProfileErr(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"user": user},
	})
}

func mapProfileErr(err error) error {
	switch {
	case errors.Is(err, repo.ErrEmailInvalid):
		return apperr.New(apperr.Validation, "please provide a valid email")
	case errors.Is(err, repo.ErrEmailTaken):
		return apperr.New(apperr.Conflict, "a user with this email already exists")
	case errors.Is(err, repo.ErrUserNotFound):
		return apperr.New(apperr.NotFound, "no user found with that ID")
	}
	return err
}

// DeleteMe deactivates the account instead of erasing the row. Deactivated
// users vanish from every lookup, so their tokens die with them.
func (h *UserHandler) DeleteMe(c echo.Context) error {
	id, err := currentUserID(c)
	if err != nil {
		return err
	}

	if err := h.Repo.Deactivate(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *UserHandler) ListUsers(c echo.Context) error {
	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	users, total, err := h.Repo.ListUsers(c.Request().Context(), offset, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":  "success",
		"results": len(users),
		"total":   total,
		"data":    echo.Map{"users": users},
	})
}

func (h *UserHandler) GetUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	user, err := h.Repo.FindByID(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"user": user},
	})
}

func (h *UserHandler) UpdateUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}

	user, err := h.Repo.UpdateProfile(c.Request().Context(), id, req.Name, req.Email)
	if err != nil {
		return mapProfileErr(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "success",
		"data":   echo.Map{"user": user},
	})
}

func (h *UserHandler) DeleteUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	if err := h.Repo.DeleteUser(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func pathID(c echo.Context) (uint, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		return 0, apperr.New(apperr.Validation, "invalid id")
	}
	return uint(id), nil
}
