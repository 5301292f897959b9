package httpadapter

import (
	"net/http"
	"time"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
)

type auditLogsParams struct {
	ActionType *string
	Category   *string
	Severity   *string
	UserID     *int64
	DocumentID *int64
	From       *time.Time
	To         *time.Time
	Limit      *int
	Offset     *int
}

func (p *auditLogsParams) bind(r *http.Request) error {
	for name, dest := range map[string]any{
		"actionType": &p.ActionType,
		"category":   &p.Category,
		"severity":   &p.Severity,
		"userId":     &p.UserID,
		"documentId": &p.DocumentID,
		"from":       &p.From,
		"to":         &p.To,
		"limit":      &p.Limit,
		"offset":     &p.Offset,
	} {
		if err := queryParam(r, name, dest); err != nil {
			return err
		}
	}
	return nil
}

func (p auditLogsParams) filter() ports.AuditFilter {
	f := ports.AuditFilter{
		UserID:     p.UserID,
		DocumentID: p.DocumentID,
		From:       p.From,
		To:         p.To,
	}
	if p.ActionType != nil {
		f.ActionType = domain.ActionType(*p.ActionType)
	}
	if p.Category != nil {
		f.Category = domain.AuditCategory(*p.Category)
	}
	if p.Severity != nil {
		f.Severity = domain.Severity(*p.Severity)
	}
	if p.Limit != nil {
		f.Limit = *p.Limit
	}
	if p.Offset != nil {
		f.Offset = *p.Offset
	}
	return f
}

func (s *Server) getAuditLogs(w http.ResponseWriter, r *http.Request) {
	var params auditLogsParams
	if err := params.bind(r); err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.audit.SearchLogs(r.Context(), params.filter()))
}

type statsView struct {
	From       time.Time                      `json:"from"`
	To         time.Time                      `json:"to"`
	Total      int64                          `json:"total"`
	ByCategory map[domain.AuditCategory]int64 `json:"byCategory"`
	BySeverity map[domain.Severity]int64      `json:"bySeverity"`
	ByAction   map[domain.ActionType]int64    `json:"byAction"`
	ByDay      map[string]int64               `json:"byDay"`
	TopUsers   []userActivityView             `json:"topUsers"`
}

type userActivityView struct {
	UserID int64 `json:"userId"`
	Count  int64 `json:"count"`
}

func (s *Server) getAuditStats(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time
	if err := queryParam(r, "from", &from); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := queryParam(r, "to", &to); err != nil {
		badRequest(w, err.Error())
		return
	}
	var f, t time.Time
	if from != nil {
		f = *from
	}
	if to != nil {
		t = *to
	}
	stats := s.audit.GetActivityStats(r.Context(), f, t)
	view := statsView{
		From:       stats.From,
		To:         stats.To,
		Total:      stats.Total,
		ByCategory: stats.ByCategory,
		BySeverity: stats.BySeverity,
		ByAction:   stats.ByAction,
		ByDay:      stats.ByDay,
		TopUsers:   make([]userActivityView, 0, len(stats.TopUsers)),
	}
	for _, u := range stats.TopUsers {
		view.TopUsers = append(view.TopUsers, userActivityView{UserID: u.UserID, Count: u.Count})
	}
	writeJSON(w, http.StatusOK, view)
}
