package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/peerplay/internal/api/http/converter"
	"github.com/immxrtalbeast/peerplay/internal/engine"
	"github.com/immxrtalbeast/peerplay/internal/repository"
	"github.com/immxrtalbeast/peerplay/internal/service"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

type DirectoryController struct {
	directory service.DirectoryInteractor
	catalog   *engine.Catalog
	log       *slog.Logger
}

func NewDirectoryController(directory service.DirectoryInteractor, catalog *engine.Catalog, log *slog.Logger) *DirectoryController {
	if log == nil {
		log = slog.Default()
	}
	if catalog == nil {
		catalog = engine.NewCatalog()
	}
	return &DirectoryController{
		directory: directory,
		catalog:   catalog,
		log:       log,
	}
}

func (c *DirectoryController) Publish(ctx *gin.Context) {
	var req converter.PublishRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if req.GameSlug != "" {
		if _, ok := c.catalog.Lookup(req.GameSlug); !ok && len(c.catalog.List()) > 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "unknown game", "details": req.GameSlug})
			return
		}
	}

	listing, err := c.directory.Publish(ctx.Request.Context(), req.Listing())
	if err != nil {
		ctx.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.ListingToApi(listing)})
}

func (c *DirectoryController) List(ctx *gin.Context) {
	filter := service.ListingFilter{GameSlug: ctx.Query("game")}
	if raw := ctx.Query("joinable"); raw != "" {
		joinable, err := strconv.ParseBool(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid joinable flag"})
			return
		}
		filter.JoinableOnly = joinable
	}

	listings, err := c.directory.List(ctx.Request.Context(), filter)
	if err != nil {
		ctx.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rooms": converter.ListingsToApi(listings)})
}

func (c *DirectoryController) GetRoom(ctx *gin.Context) {
	listing, err := c.directory.GetByRoomID(ctx.Request.Context(), ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.ListingToApi(listing)})
}

func (c *DirectoryController) GetRoomByCode(ctx *gin.Context) {
	listing, err := c.directory.GetByCode(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		ctx.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.ListingToApi(listing)})
}

// RoomQR renders a PNG QR code pointing at the listing of a room code.
func (c *DirectoryController) RoomQR(ctx *gin.Context) {
	listing, err := c.directory.GetByCode(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		ctx.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	scheme := "http"
	if ctx.Request.TLS != nil {
		scheme = "https"
	}
	if proto := ctx.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	url := scheme + "://" + ctx.Request.Host + "/api/rooms/code/" + listing.Code

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "qr generation failed"})
		return
	}
	ctx.Data(http.StatusOK, "image/png", png)
}

func (c *DirectoryController) Withdraw(ctx *gin.Context) {
	if err := c.directory.Withdraw(ctx.Request.Context(), ctx.Param("roomID")); err != nil {
		ctx.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *DirectoryController) Games(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"games": c.catalog.List()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrListingNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrCodeTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidListing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
