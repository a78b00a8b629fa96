package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/setevik/sosdesk/internal/dashboard"
	"github.com/setevik/sosdesk/internal/desk"
	"github.com/setevik/sosdesk/internal/directory"
	"github.com/setevik/sosdesk/internal/incident"
)

// incidentView adds dial links to an incident.
type incidentView struct {
	*incident.Incident
	PhoneURI    string `json:"phoneUri,omitempty"`
	NOKPhoneURI string `json:"nokPhoneUri,omitempty"`
}

func viewIncident(inc *incident.Incident) incidentView {
	return incidentView{
		Incident:    inc,
		PhoneURI:    incident.TelURI(inc.PhoneNumber),
		NOKPhoneURI: incident.TelURI(inc.NOKPhone),
	}
}

type residentView struct {
	directory.Resident
	PhoneURI    string `json:"phoneUri,omitempty"`
	NOKPhoneURI string `json:"nokPhoneUri,omitempty"`
}

type staffView struct {
	directory.Staff
	PhoneURI string `json:"phoneUri,omitempty"`
}

type listResponse struct {
	Date      string         `json:"date"`
	Count     int            `json:"count"`
	Incidents []incidentView `json:"incidents"`
}

type raiseRequest struct {
	Type         string `json:"incidentType"`
	FlatNumber   string `json:"flatNumber"`
	Description  string `json:"description"`
	ResidentName string `json:"residentName"`
	PhoneNumber  string `json:"phoneNumber"`
	NOKPhone     string `json:"nokPhone"`
	DeviceTag    string `json:"deviceTag"`
}

type advanceRequest struct {
	To    string `json:"to"`
	Actor string `json:"actor"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	day, err := s.desk.ParseDate(r.URL.Query().Get("today"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := s.desk.Stats(day)
	if err != nil {
		writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := incident.ParseStatusFilter(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	typ, err := incident.ParseTypeFilter(q.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	day, err := s.desk.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	incs, err := s.desk.List(dashboard.Filter{Status: status, Type: typ, Date: day})
	if err != nil {
		writeDeskError(w, err)
		return
	}

	resp := listResponse{
		Date:      day.Format(desk.DateLayout),
		Count:     len(incs),
		Incidents: make([]incidentView, 0, len(incs)),
	}
	for _, inc := range incs {
		resp.Incidents = append(resp.Incidents, viewIncident(inc))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, _, err := s.desk.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewIncident(inc))
}

func (s *Server) incidentHistory(w http.ResponseWriter, r *http.Request) {
	_, hist, err := s.desk.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDeskError(w, err)
		return
	}
	if hist == nil {
		hist = []incident.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) raiseIncident(w http.ResponseWriter, r *http.Request) {
	var req raiseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	typ, err := incident.ParseType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	flat := strings.TrimSpace(req.FlatNumber)
	if flat == "" && req.DeviceTag == "" {
		writeError(w, http.StatusBadRequest, errors.New("flatNumber or deviceTag is required"))
		return
	}

	inc := incident.New(typ, flat, s.desk.Now())
	inc.Description = strings.TrimSpace(req.Description)
	inc.ResidentName = req.ResidentName
	inc.PhoneNumber = req.PhoneNumber
	inc.NOKPhone = req.NOKPhone
	inc.DeviceTag = req.DeviceTag

	if err := s.desk.Raise(r.Context(), inc); err != nil {
		writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewIncident(inc))
}

func (s *Server) advanceIncident(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	var to incident.Status
	if req.To != "" {
		var err error
		if to, err = incident.ParseStatus(req.To); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	inc, err := s.desk.Advance(chi.URLParam(r, "id"), to, strings.TrimSpace(req.Actor))
	if err != nil {
		writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewIncident(inc))
}

func (s *Server) listResidents(w http.ResponseWriter, r *http.Request) {
	dir := s.desk.Directory()
	residents := dir.SearchResidents(r.URL.Query().Get("q"))

	views := make([]residentView, 0, len(residents))
	for _, res := range residents {
		views = append(views, residentView{
			Resident:    res,
			PhoneURI:    incident.TelURI(res.PhoneNumber),
			NOKPhoneURI: incident.TelURI(res.NOKPhone),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(views),
		"stats":     dir.ResidentStats(),
		"residents": views,
	})
}

func (s *Server) listStaff(w http.ResponseWriter, r *http.Request) {
	staff := s.desk.Directory().Staff()
	views := make([]staffView, 0, len(staff))
	for _, st := range staff {
		views = append(views, staffView{Staff: st, PhoneURI: incident.TelURI(st.PhoneNumber)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) society(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.desk.Directory().Society())
}
