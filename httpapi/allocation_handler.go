package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/next-trace/scg-allocation/allocation"
	"github.com/next-trace/scg-allocation/service"
)

// AddBatchRequest creates a batch. ETA is a date (2006-01-02) or RFC 3339 timestamp; empty means in stock.
type AddBatchRequest struct {
	Ref string `json:"ref" validate:"required"`
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gt=0"`
	ETA string `json:"eta"`
}

func (r AddBatchRequest) eta() (*time.Time, error) {
	if r.ETA == "" {
		return nil, nil
	}

	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, r.ETA); err == nil {
			return &t, nil
		}
	}

	return nil, fmt.Errorf("eta %q is neither a date nor an RFC 3339 timestamp", r.ETA)
}

type AllocateRequest struct {
	OrderID string `json:"orderid" validate:"required"`
	SKU     string `json:"sku" validate:"required"`
	Qty     int    `json:"qty" validate:"gt=0"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func (s *Server) RegisterAllocationRoutes(router *echo.Group) {
	router.POST("/add_batch", s.AddBatch)
	router.POST("/allocate", s.Allocate)
	router.GET("/allocations/:orderid", s.Allocations)
}

func (s *Server) AddBatch(c echo.Context) error {
	var req AddBatchRequest
	if err := c.Bind(&req); err != nil {
		return s.error(c, errInvalidRequest(err))
	}

	if err := c.Validate(&req); err != nil {
		return s.error(c, errInvalidParam(err))
	}

	eta, err := req.eta()
	if err != nil {
		return s.error(c, errInvalidParam(err))
	}

	cmd := allocation.CreateBatch{Ref: req.Ref, SKU: req.SKU, Qty: req.Qty, ETA: eta}
	if err := s.dispatch(c.Request().Context(), cmd); err != nil {
		if errors.Is(err, allocation.ErrBatchExists) {
			return s.error(c, errConflict(err))
		}

		return s.error(c, err)
	}

	return c.JSON(http.StatusCreated, MessageResponse{Message: "OK"})
}

func (s *Server) Allocate(c echo.Context) error {
	var req AllocateRequest
	if err := c.Bind(&req); err != nil {
		return s.error(c, errInvalidRequest(err))
	}

	if err := c.Validate(&req); err != nil {
		return s.error(c, errInvalidParam(err))
	}

	cmd := allocation.Allocate{OrderID: req.OrderID, SKU: req.SKU, Qty: req.Qty}
	if err := s.dispatch(c.Request().Context(), cmd); err != nil {
		if errors.Is(err, allocation.ErrInvalidSku) {
			return s.error(c, errInvalidSku(err))
		}

		return s.error(c, err)
	}

	return c.JSON(http.StatusAccepted, MessageResponse{Message: "OK"})
}

func (s *Server) Allocations(c echo.Context) error {
	orderID := c.Param("orderid")

	rows, err := service.Allocations(c.Request().Context(), s.uows(), orderID)
	if err != nil {
		return s.error(c, err)
	}

	if len(rows) == 0 {
		return s.error(c, errNotFound(fmt.Errorf("order %s has no allocations", orderID)))
	}

	return c.JSON(http.StatusOK, rows)
}
