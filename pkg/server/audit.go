package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"modelbench/gatekeeper/pkg/audit"
	"modelbench/gatekeeper/pkg/server/api"
)

type auditHandlers struct {
	store audit.Storage
	fail  func(http.ResponseWriter, *http.Request, error)
}

// list handles GET /v1/audit.
func (h *auditHandlers) list(w http.ResponseWriter, r *http.Request) {
	q, err := parseAuditQuery(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := q.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	q.ApplyDefaults()

	records, err := h.store.Query(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	total, err := h.store.Count(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, api.AuditResponse{
		Records: records,
		Total:   total,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
}

// parseAuditQuery reads the filters of GET /v1/audit. Times are RFC 3339.
func parseAuditQuery(v url.Values) (*audit.Query, error) {
	q := &audit.Query{
		UserID:      v.Get("user_id"),
		Environment: v.Get("environment"),
		Endpoint:    v.Get("endpoint"),
		Kind:        v.Get("kind"),
		SortOrder:   v.Get("order"),
	}

	invalid := func(name string, err error) error {
		return &audit.QueryError{Query: q, Cause: fmt.Errorf("%s: %v", name, err)}
	}

	for name, dst := range map[string]**time.Time{"since": &q.Start, "until": &q.End} {
		s := v.Get(name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, invalid(name, err)
		}
		*dst = &t
	}

	if s := v.Get("allowed"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, invalid("allowed", err)
		}
		q.Allowed = &b
	}

	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		s := v.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, invalid(name, err)
		}
		*dst = n
	}

	return q, nil
}
