package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/ingest"
	"github.com/brenner/internal/messaging"
	"github.com/brenner/internal/sessionstore"
)

// httpError maps domain errors onto HTTP status codes
func httpError(err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, anomaly.ErrNotFound),
		errors.Is(err, messaging.ErrThreadNotFound),
		errors.Is(err, sessionstore.ErrArtifactNotFound),
		errors.Is(err, ingest.ErrNoArtifact):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, anomaly.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, anomaly.ErrInvalidSession),
		errors.Is(err, anomaly.ErrInvalidID),
		errors.As(err, &verrs):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, sessionstore.ErrCorruptSession):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
