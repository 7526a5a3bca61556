package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Seedrarr/internal/domain"
	"github.com/mescon/Seedrarr/internal/logger"
)

// maxTorrentSize caps uploaded .torrent payloads. Real torrent files are a
// few hundred KB at most; anything bigger is not a torrent.
const maxTorrentSize = 10 << 20 // 10 MB

// submitRequest is the JSON body for a magnet/URL submission.
type submitRequest struct {
	Title       string `json:"title" binding:"required"`
	DownloadURL string `json:"download_url"`
	SeriesID    *int64 `json:"series_id"`
}

// submitDownload accepts a new download, either as JSON carrying a magnet
// link or torrent URL, or as a multipart upload carrying a raw .torrent file
// under the "torrent" field with the title in the "title" field.
func (s *RESTServer) submitDownload(c *gin.Context) {
	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		s.submitTorrentFile(c)
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, true)
		return
	}
	if req.DownloadURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "download_url is required"})
		return
	}

	result, err := s.downloads.Add(c.Request.Context(), req.Title, req.DownloadURL, req.SeriesID)
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}

	logger.Infof("Download submitted via API: %s", req.Title)
	c.JSON(http.StatusCreated, result)
}

// submitTorrentFile handles the multipart variant of submitDownload.
func (s *RESTServer) submitTorrentFile(c *gin.Context) {
	title := c.PostForm("title")
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMsgTitleRequired})
		return
	}

	fileHeader, err := c.FormFile("torrent")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "torrent file is required"})
		return
	}
	if fileHeader.Size > maxTorrentSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Torrent file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondBadRequest(c, err, false)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxTorrentSize))
	if err != nil {
		respondBadRequest(c, err, false)
		return
	}

	var seriesID *int64
	if raw := c.PostForm("series_id"); raw != "" {
		id := int64(parseInt(raw, 0))
		if id > 0 {
			seriesID = &id
		}
	}

	result, err := s.downloads.AddTorrentFile(c.Request.Context(), title, fileHeader.Filename, data, seriesID)
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}

	logger.Infof("Torrent file submitted via API: %s (%s)", title, fileHeader.Filename)
	c.JSON(http.StatusCreated, result)
}

// listDownloads returns every tracked download with its reconciled status.
func (s *RESTServer) listDownloads(c *gin.Context) {
	overview, err := s.downloads.Overview(c.Request.Context())
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	if overview == nil {
		overview = []domain.DownloadOverview{}
	}
	c.JSON(http.StatusOK, gin.H{
		"downloads": overview,
		"count":     len(overview),
	})
}

// pollDownloads runs a full reconcile sweep on demand, outside the cron
// schedule. Completed entries are fetched and Sonarr is notified as part
// of the sweep.
func (s *RESTServer) pollDownloads(c *gin.Context) {
	overview, err := s.downloads.PollAll(c.Request.Context())
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	if overview == nil {
		overview = []domain.DownloadOverview{}
	}
	c.JSON(http.StatusOK, gin.H{
		"downloads": overview,
		"count":     len(overview),
	})
}

// getDownloadStatus returns the normalized status for one title.
func (s *RESTServer) getDownloadStatus(c *gin.Context) {
	title := c.Param("title")
	status, err := s.downloads.Status(c.Request.Context(), title)
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"title":  title,
		"status": status,
	})
}

// getDownloadFiles lists the remote contents of a download.
func (s *RESTServer) getDownloadFiles(c *gin.Context) {
	title := c.Param("title")
	files, err := s.downloads.Files(c.Request.Context(), title)
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	if files == nil {
		files = []domain.RemoteItem{}
	}
	c.JSON(http.StatusOK, gin.H{
		"title": title,
		"files": files,
		"count": len(files),
	})
}

// fetchDownload runs the completion pipeline for one title: transfer the
// finished files from Seedr into the download directory.
func (s *RESTServer) fetchDownload(c *gin.Context) {
	title := c.Param("title")
	result, err := s.downloads.DownloadCompleted(c.Request.Context(), title)
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// notifySonarr asks Sonarr to scan the completed download's directory.
func (s *RESTServer) notifySonarr(c *gin.Context) {
	title := c.Param("title")
	response, err := s.downloads.NotifySonarr(c.Request.Context(), title)
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"title":  title,
		"sonarr": response,
	})
}

// pauseDownload pauses an actively downloading task.
func (s *RESTServer) pauseDownload(c *gin.Context) {
	title := c.Param("title")
	result, err := s.downloads.Pause(c.Request.Context(), title)
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// resumeDownload resumes a paused task.
func (s *RESTServer) resumeDownload(c *gin.Context) {
	title := c.Param("title")
	result, err := s.downloads.Resume(c.Request.Context(), title)
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// deleteDownload removes the remote task and forgets the ledger entry.
func (s *RESTServer) deleteDownload(c *gin.Context) {
	title := c.Param("title")
	result, err := s.downloads.Delete(c.Request.Context(), title)
	if err != nil {
		respondDownloadError(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	logger.Infof("Download deleted via API: %s", title)
	c.JSON(http.StatusOK, result)
}
