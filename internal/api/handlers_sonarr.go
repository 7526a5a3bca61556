package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Seedrarr/internal/integration"
)

// getSonarrSeries proxies the Sonarr series list for the UI's series picker.
func (s *RESTServer) getSonarrSeries(c *gin.Context) {
	if s.sonarr == nil {
		respondServiceUnavailable(c, "Sonarr")
		return
	}

	series, err := s.sonarr.GetSeries(c.Request.Context())
	if err != nil {
		respondWithError(c, http.StatusBadGateway, "Sonarr request failed", err)
		return
	}
	if series == nil {
		series = []integration.Series{}
	}
	c.JSON(http.StatusOK, gin.H{
		"series": series,
		"count":  len(series),
	})
}

// getSonarrMissing returns Sonarr's wanted/missing episodes, the natural
// candidates for a manual download submission.
func (s *RESTServer) getSonarrMissing(c *gin.Context) {
	if s.sonarr == nil {
		respondServiceUnavailable(c, "Sonarr")
		return
	}

	missing, err := s.sonarr.GetMissingEpisodes(c.Request.Context())
	if err != nil {
		respondWithError(c, http.StatusBadGateway, "Sonarr request failed", err)
		return
	}
	if missing == nil {
		missing = []integration.MissingEpisode{}
	}
	c.JSON(http.StatusOK, gin.H{
		"missing": missing,
		"count":   len(missing),
	})
}

// getSonarrRootFolders returns Sonarr's library roots.
func (s *RESTServer) getSonarrRootFolders(c *gin.Context) {
	if s.sonarr == nil {
		respondServiceUnavailable(c, "Sonarr")
		return
	}

	folders, err := s.sonarr.GetRootFolders(c.Request.Context())
	if err != nil {
		respondWithError(c, http.StatusBadGateway, "Sonarr request failed", err)
		return
	}
	if folders == nil {
		folders = []integration.RootFolder{}
	}
	c.JSON(http.StatusOK, gin.H{
		"rootfolders": folders,
		"count":       len(folders),
	})
}
