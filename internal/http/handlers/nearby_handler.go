package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-drop-backend/internal/http/middleware"
	"github.com/tbourn/go-drop-backend/internal/services"
	"github.com/tbourn/go-drop-backend/internal/utils"
)

const (
	defaultNearbyLimit = 50
	maxNearbyLimit     = 200
)

// NearbyIdentity is one entry of a nearby listing.
type NearbyIdentity struct {
	Name     string `json:"name"     example:"Bold Lynx"`
	Distance string `json:"distance" example:"2.22 km"`
}

// NearbyResponse wraps a nearby listing.
type NearbyResponse struct {
	NearbyIdentities []NearbyIdentity `json:"nearbyIdentities"`
}

// NearbyByIP godoc
// @ID          nearbyByIP
// @Summary     List peers on the same network
// @Tags        Nearby
// @Produce     json
// @Security    BearerAuth
// @Param       limit  query  int  false  "Max entries"  minimum(1) maximum(200) default(50)
// @Success     200  {object}  handlers.NearbyResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /nearby [get]
func (h *Handlers) NearbyByIP(c *gin.Context) {
	list, err := h.nearby.ByIP(c.Request.Context(), middleware.IdentityID(c))
	h.writeNearby(c, list, err)
}

// NearbyByGeolocation godoc
// @ID          nearbyByGeolocation
// @Summary     List peers within the proximity radius
// @Description Peers are sorted by distance. The caller must have shared coordinates first.
// @Tags        Nearby
// @Produce     json
// @Security    BearerAuth
// @Param       limit  query  int  false  "Max entries"  minimum(1) maximum(200) default(50)
// @Success     200  {object}  handlers.NearbyResponse
// @Failure     400  {object}  handlers.ErrorResponse  "No geolocation shared"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /nearby/geolocation [get]
func (h *Handlers) NearbyByGeolocation(c *gin.Context) {
	list, err := h.nearby.ByGeolocation(c.Request.Context(), middleware.IdentityID(c))
	h.writeNearby(c, list, err)
}

func (h *Handlers) writeNearby(c *gin.Context, list []services.Nearby, err error) {
	if err != nil {
		failErr(c, err)
		return
	}
	limit := utils.Clamp(utils.AtoiDefault(c.Query("limit"), defaultNearbyLimit), 1, maxNearbyLimit)
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]NearbyIdentity, 0, len(list))
	for _, n := range list {
		out = append(out, NearbyIdentity{Name: n.Name, Distance: n.Distance})
	}
	ok(c, http.StatusOK, NearbyResponse{NearbyIdentities: out})
}
