package api

import (
	"github.com/labstack/echo/v4"

	"AutoTrader/internal/model"
)

// account reads the broker account and keeps a snapshot of it. A failed
// snapshot write is logged and the account is still returned.
func (h *Handler) account(c echo.Context) error {
	ctx := c.Request().Context()
	a, err := h.Broker.GetAccount(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("get account")
		return InternalServerErrorResponse(c)
	}
	if err := h.Store.SaveSnapshot(ctx, model.SnapshotOf(*a)); err != nil {
		h.log.Warn().Err(err).Msg("save account snapshot")
	}
	return SuccessResponse(c, a)
}

func (h *Handler) positions(c echo.Context) error {
	positions, err := h.Broker.ListPositions(c.Request().Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list positions")
		return InternalServerErrorResponse(c)
	}
	return SuccessResponse(c, nonNil(positions))
}

func (h *Handler) marketStatus(c echo.Context) error {
	clock, err := h.Broker.GetClock(c.Request().Context())
	if err != nil {
		h.log.Error().Err(err).Msg("get clock")
		return InternalServerErrorResponse(c)
	}
	return SuccessResponse(c, clock)
}
