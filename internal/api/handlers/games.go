package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dorkfun/backend/internal/game"
)

// ListGames returns the catalog of registered game modules.
func ListGames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"games": game.List()})
}
