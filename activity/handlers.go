package activity

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes adds activity inspection endpoints to an Echo group.
func (t *Tracker) RegisterRoutes(g *echo.Group) {
	g.GET("/activity", t.handleSnapshot)
}

func (t *Tracker) handleSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, t.Snapshot())
}
