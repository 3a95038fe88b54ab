package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/apperr"
	"github.com/phonginreallife/inres-oncall/services"
)

// APIHandler serves the read-only status API used by dashboards.
type APIHandler struct {
	directory *services.DirectoryService
}

func NewAPIHandler(directory *services.DirectoryService) *APIHandler {
	return &APIHandler{directory: directory}
}

type rosterLineResponse struct {
	Date      string         `json:"date"`
	Team      string         `json:"team"`
	Primary   personResponse `json:"primary"`
	Secondary personResponse `json:"secondary"`
}

type personResponse struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Link     string `json:"link,omitempty"`
}

func toPerson(u *db.User) personResponse {
	return personResponse{ID: u.ID, FullName: u.DisplayName(), Phone: u.Phone, Link: u.ContactLink()}
}

func toRosterLine(l services.RosterLine) rosterLineResponse {
	return rosterLineResponse{
		Date:      l.Entry.Date,
		Team:      l.Entry.Team,
		Primary:   toPerson(l.Primary),
		Secondary: toPerson(l.Secondary),
	}
}

// GetIncident handles GET /api/v1/incidents/:id
func (h *APIHandler) GetIncident(c *gin.Context) {
	inc, err := h.directory.Incident(c.Request.Context(), c.GetInt64(ActorIDKey), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

// GetTeamRoster handles GET /api/v1/teams/:team/roster
func (h *APIHandler) GetTeamRoster(c *gin.Context) {
	lines, err := h.directory.TeamRoster(c.Request.Context(), strings.ToLower(c.Param("team")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]rosterLineResponse, len(lines))
	for i, l := range lines {
		out[i] = toRosterLine(l)
	}
	c.JSON(http.StatusOK, gin.H{"roster": out, "total": len(out)})
}

// GetTodayRoster handles GET /api/v1/teams/:team/roster/today
func (h *APIHandler) GetTodayRoster(c *gin.Context) {
	line, err := h.directory.TodayRoster(c.Request.Context(), strings.ToLower(c.Param("team")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRosterLine(*line))
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindAuthorization:
		status = http.StatusForbidden
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindPrecondition:
		status = http.StatusConflict
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindChannel:
		status = http.StatusBadGateway
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
