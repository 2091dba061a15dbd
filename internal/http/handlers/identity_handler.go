// Identity HTTP handlers.
//
// This file exposes REST endpoints for anonymous identities:
//   - POST   /identities              (create)
//   - GET    /identities/{name}       (look up by display name)
//   - PATCH  /identities/geolocation  (share coordinates)
//   - DELETE /identities             (forget the caller)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-drop-backend/internal/http/middleware"
)

//
// DTOs
//

// CreateIdentityResponse is returned once, at creation. The uuid is the
// bearer credential for every other call.
type CreateIdentityResponse struct {
	UUID string `json:"uuid" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Name string `json:"name" example:"Agile Albatross"`
}

// IdentityNameResponse confirms that a display name exists.
type IdentityNameResponse struct {
	Name string `json:"name" example:"Agile Albatross"`
}

// Geolocation is a WGS84 coordinate pair.
type Geolocation struct {
	Longitude *float64 `json:"longitude" binding:"required" example:"23.7275"`
	Latitude  *float64 `json:"latitude"  binding:"required" example:"37.9838"`
}

// UpdateGeolocationRequest is the JSON payload for sharing coordinates.
type UpdateGeolocationRequest struct {
	Geolocation *Geolocation `json:"geolocation" binding:"required"`
}

// UpdateGeolocationResponse echoes the stored coordinates.
type UpdateGeolocationResponse struct {
	Data Geolocation `json:"data"`
}

// CreateIdentity godoc
// @ID          createIdentity
// @Summary     Create an anonymous identity
// @Description Allocates a uuid and a unique display name bound to the caller's network address.
// @Tags        Identities
// @Produce     json
// @Success     201  {object}  handlers.CreateIdentityResponse
// @Failure     429  {object}  handlers.ErrorResponse  "Too many requests"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /identities [post]
func (h *Handlers) CreateIdentity(c *gin.Context) {
	id, err := h.ids.Create(c.Request.Context(), c.ClientIP())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, CreateIdentityResponse{UUID: id.ID, Name: id.Name})
}

// GetIdentity godoc
// @ID          getIdentity
// @Summary     Check a display name
// @Tags        Identities
// @Produce     json
// @Security    BearerAuth
// @Param       name  path  string  true  "Display name"  example(Agile Albatross)
// @Success     200  {object}  handlers.IdentityNameResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Identity not found"
// @Router      /identities/{name} [get]
func (h *Handlers) GetIdentity(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required")
		return
	}
	id, err := h.ids.GetByName(c.Request.Context(), name)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, IdentityNameResponse{Name: id.Name})
}

// UpdateGeolocation godoc
// @ID          updateGeolocation
// @Summary     Share coordinates
// @Description Stores the caller's coordinates and notifies connected peers to refresh their nearby lists.
// @Tags        Identities
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.UpdateGeolocationRequest  true  "Coordinates"
// @Success     200  {object}  handlers.UpdateGeolocationResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /identities/geolocation [patch]
func (h *Handlers) UpdateGeolocation(c *gin.Context) {
	var req UpdateGeolocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "geolocation with longitude and latitude required")
		return
	}
	g := req.Geolocation
	if err := h.ids.UpdateGeolocation(c.Request.Context(), middleware.IdentityID(c), *g.Longitude, *g.Latitude); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, UpdateGeolocationResponse{Data: *g})
}

// DeleteIdentity godoc
// @ID          deleteIdentity
// @Summary     Delete the caller's identity
// @Description Closes the caller's socket, discards everything staged for it and removes the identity.
// @Tags        Identities
// @Security    BearerAuth
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /identities [delete]
func (h *Handlers) DeleteIdentity(c *gin.Context) {
	if err := h.ids.Delete(c.Request.Context(), middleware.IdentityID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
