package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// eventRow is one persisted lifecycle event as returned by the timeline API.
type eventRow struct {
	ID            int64                  `json:"id"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	EventType     string                 `json:"event_type"`
	Data          map[string]interface{} `json:"data"`
	CreatedAt     string                 `json:"created_at"`
}

// getEvents returns the persisted event timeline, newest first. Filterable
// by title (aggregate_id) and event_type, paginated.
func (s *RESTServer) getEvents(c *gin.Context) {
	p := ParsePagination(c, PaginationConfig{
		DefaultLimit:     50,
		MaxLimit:         500,
		DefaultSortBy:    "id",
		DefaultSortOrder: "desc",
		AllowedSortBy:    map[string]bool{"id": true, "created_at": true},
	})

	where := "WHERE 1=1"
	args := []interface{}{}

	if title := c.Query("title"); title != "" {
		where += " AND aggregate_id = ?"
		args = append(args, title)
	}
	if eventType := c.Query("event_type"); eventType != "" {
		where += " AND event_type = ?"
		args = append(args, eventType)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events "+where, args...).Scan(&total); err != nil {
		respondDatabaseError(c, err)
		return
	}

	orderBy := SafeOrderByClause(p.SortBy, p.SortOrder,
		map[string]string{"id": "id", "created_at": "created_at"}, "id", "desc")

	query := "SELECT id, aggregate_type, aggregate_id, event_type, event_data, created_at FROM events " +
		where + " " + orderBy + " LIMIT ? OFFSET ?"
	queryArgs := append(args, p.Limit, p.Offset)

	rows, err := s.db.Query(query, queryArgs...)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	defer rows.Close()

	events := []eventRow{}
	for rows.Next() {
		var row eventRow
		var rawData string
		if err := rows.Scan(&row.ID, &row.AggregateType, &row.AggregateID, &row.EventType, &rawData, &row.CreatedAt); err != nil {
			respondDatabaseError(c, err)
			return
		}
		if err := json.Unmarshal([]byte(rawData), &row.Data); err != nil {
			// A single corrupt payload should not break the timeline
			row.Data = map[string]interface{}{"raw": rawData}
		}
		events = append(events, row)
	}
	if err := rows.Err(); err != nil {
		respondDatabaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events":     events,
		"pagination": NewPaginationResponse(p, total),
	})
}
