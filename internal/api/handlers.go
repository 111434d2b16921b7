package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/netpulse/netpulse/internal/models"
	"github.com/netpulse/netpulse/internal/storage"
)

// HostDefaults seeds fields the create request leaves out.
type HostDefaults struct {
	PingIntervalSeconds int
	WarningThresholdMs  int
	CriticalThresholdMs int
}

// Server wires the route table to storage and the monitoring engine.
// HostChanged and HostRemoved let the owner resync probe timers after
// writes; both are optional.
type Server struct {
	Store       *storage.Store
	Version     string
	Defaults    HostDefaults
	HostChanged func(models.Host)
	HostRemoved func(int64)
}

// Routes builds the full route table.
func (s *Server) Routes(apiKey func() string) *Router {
	rt := NewRouter(apiKey)

	rt.Handle(http.MethodGet, "/api/health", false, s.handleHealth)
	rt.Handle(http.MethodGet, "/api/version", false, s.handleVersion)

	rt.Handle(http.MethodGet, "/api/hosts", true, s.handleListHosts)
	rt.Handle(http.MethodGet, "/api/hosts/:id", true, s.handleGetHost)
	rt.Handle(http.MethodPost, "/api/hosts", true, s.handleCreateHost)
	rt.Handle(http.MethodPut, "/api/hosts/:id", true, s.handleUpdateHost)
	rt.Handle(http.MethodDelete, "/api/hosts/:id", true, s.handleDeleteHost)

	rt.Handle(http.MethodGet, "/api/groups", true, s.handleListGroups)
	rt.Handle(http.MethodGet, "/api/groups/:id", true, s.handleGetGroup)
	rt.Handle(http.MethodPost, "/api/groups", true, s.handleCreateGroup)
	rt.Handle(http.MethodDelete, "/api/groups/:id", true, s.handleDeleteGroup)

	rt.Handle(http.MethodGet, "/api/alerts", true, s.handleListAlerts)
	rt.Handle(http.MethodPost, "/api/alerts/:id/acknowledge", true, s.handleAckAlert)
	rt.Handle(http.MethodPost, "/api/alerts/acknowledge-all", true, s.handleAckAllAlerts)

	rt.Handle(http.MethodGet, "/api/hosts/:id/metrics", true, s.handleHostMetrics)
	rt.Handle(http.MethodGet, "/api/hosts/:id/statistics", true, s.handleHostStatistics)
	rt.Handle(http.MethodGet, "/api/hosts/:id/export", true, s.handleHostExport)

	rt.Handle(http.MethodGet, "/api/portscans", true, s.handlePortScans)

	return rt
}

// hostDTO is the wire shape of a host; times go out as epoch seconds.
type hostDTO struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Address             string `json:"address"`
	PingIntervalSeconds int    `json:"pingIntervalSeconds"`
	WarningThresholdMs  int    `json:"warningThresholdMs"`
	CriticalThresholdMs int    `json:"criticalThresholdMs"`
	Status              string `json:"status"`
	Enabled             bool   `json:"enabled"`
	GroupID             *int64 `json:"groupId"`
	CreatedAt           int64  `json:"createdAt"`
	LastChecked         *int64 `json:"lastChecked"`
}

func toHostDTO(h models.Host) hostDTO {
	dto := hostDTO{
		ID:                  h.ID,
		Name:                h.Name,
		Address:             h.Address,
		PingIntervalSeconds: h.PingIntervalSeconds,
		WarningThresholdMs:  h.WarningThresholdMs,
		CriticalThresholdMs: h.CriticalThresholdMs,
		Status:              string(h.Status),
		Enabled:             h.Enabled,
		GroupID:             h.GroupID,
		CreatedAt:           h.CreatedAt.Unix(),
	}
	if h.LastChecked != nil {
		t := h.LastChecked.Unix()
		dto.LastChecked = &t
	}
	return dto
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	count, err := s.Store.CountHosts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   s.Version,
		"hosts":     count,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.Version})
}

func (s *Server) handleListHosts(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	hosts, err := s.Store.FindAllHosts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	dtos := make([]hostDTO, 0, len(hosts))
	for _, h := range hosts {
		dtos = append(dtos, toHostDTO(h))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleGetHost(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	host, err := s.Store.FindHostByID(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHostDTO(*host))
}

// hostRequest accepts any subset of host fields. On update, absent
// fields keep their current values.
type hostRequest struct {
	Name                *string `json:"name"`
	Address             *string `json:"address"`
	PingIntervalSeconds *int    `json:"pingIntervalSeconds"`
	WarningThresholdMs  *int    `json:"warningThresholdMs"`
	CriticalThresholdMs *int    `json:"criticalThresholdMs"`
	Enabled             *bool   `json:"enabled"`
	GroupID             *int64  `json:"groupId"`
}

func (s *Server) handleCreateHost(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req hostRequest
	if !decodeBody(w, r, &req) {
		return
	}
	host := models.Host{
		PingIntervalSeconds: s.Defaults.PingIntervalSeconds,
		WarningThresholdMs:  s.Defaults.WarningThresholdMs,
		CriticalThresholdMs: s.Defaults.CriticalThresholdMs,
		Enabled:             true,
	}
	applyHostRequest(&host, req)

	if _, err := s.Store.InsertHost(&host); err != nil {
		writeStoreError(w, err)
		return
	}
	if host.Enabled && s.HostChanged != nil {
		s.HostChanged(host)
	}
	writeJSON(w, http.StatusCreated, toHostDTO(host))
}

func (s *Server) handleUpdateHost(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	var req hostRequest
	if !decodeBody(w, r, &req) {
		return
	}
	host, err := s.Store.FindHostByID(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	applyHostRequest(host, req)
	if err := s.Store.UpdateHost(host); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.HostChanged != nil {
		s.HostChanged(*host)
	}
	writeJSON(w, http.StatusOK, toHostDTO(*host))
}

func applyHostRequest(h *models.Host, req hostRequest) {
	if req.Name != nil {
		h.Name = *req.Name
	}
	if req.Address != nil {
		h.Address = *req.Address
	}
	if req.PingIntervalSeconds != nil {
		h.PingIntervalSeconds = *req.PingIntervalSeconds
	}
	if req.WarningThresholdMs != nil {
		h.WarningThresholdMs = *req.WarningThresholdMs
	}
	if req.CriticalThresholdMs != nil {
		h.CriticalThresholdMs = *req.CriticalThresholdMs
	}
	if req.Enabled != nil {
		h.Enabled = *req.Enabled
	}
	if req.GroupID != nil {
		h.GroupID = req.GroupID
	}
}

func (s *Server) handleDeleteHost(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	if err := s.Store.DeleteHost(id); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.HostRemoved != nil {
		s.HostRemoved(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	groups, err := s.Store.FindAllHostGroups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	group, err := s.Store.FindHostGroupByID(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	hosts, err := s.Store.FindHostsByGroup(&id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	dtos := make([]hostDTO, 0, len(hosts))
	for _, h := range hosts {
		dtos = append(dtos, toHostDTO(h))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group": group,
		"hosts": dtos,
	})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var group models.HostGroup
	if !decodeBody(w, r, &group) {
		return
	}
	if _, err := s.Store.InsertHostGroup(&group); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	if err := s.Store.DeleteHostGroup(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	var filter models.AlertFilter
	if v := q.Get("severity"); v != "" {
		sev := models.AlertSeverity(v)
		filter.Severity = &sev
	}
	if v := q.Get("type"); v != "" {
		t := models.AlertType(v)
		filter.Type = &t
	}
	if v := q.Get("acknowledged"); v != "" {
		ack := v == "true" || v == "1"
		filter.Acknowledged = &ack
	}
	filter.SearchText = q.Get("search")

	alerts, err := s.Store.GetAlertsFiltered(filter, queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, alertDTOs(alerts))
}

type alertDTO struct {
	ID           int64  `json:"id"`
	HostID       int64  `json:"hostId"`
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
	Acknowledged bool   `json:"acknowledged"`
}

func alertDTOs(alerts []models.Alert) []alertDTO {
	dtos := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		dtos = append(dtos, alertDTO{
			ID:           a.ID,
			HostID:       a.HostID,
			Type:         string(a.Type),
			Severity:     string(a.Severity),
			Title:        a.Title,
			Message:      a.Message,
			Timestamp:    a.Timestamp.Unix(),
			Acknowledged: a.Acknowledged,
		})
	}
	return dtos
}

func (s *Server) handleAckAlert(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	if err := s.Store.AcknowledgeAlert(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleAckAllAlerts(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	n, err := s.Store.AcknowledgeAllAlerts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"acknowledged": n})
}

type pingResultDTO struct {
	ID           int64   `json:"id"`
	HostID       int64   `json:"hostId"`
	Timestamp    int64   `json:"timestamp"`
	LatencyMs    float64 `json:"latencyMs"`
	Success      bool    `json:"success"`
	TTL          *int    `json:"ttl"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

func (s *Server) handleHostMetrics(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	if _, err := s.Store.FindHostByID(id); err != nil {
		writeStoreError(w, err)
		return
	}
	results, err := s.Store.GetPingResults(id, queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	dtos := make([]pingResultDTO, 0, len(results))
	for _, p := range results {
		dtos = append(dtos, pingResultDTO{
			ID:           p.ID,
			HostID:       p.HostID,
			Timestamp:    p.Timestamp.Unix(),
			LatencyMs:    float64(p.Latency.Microseconds()) / 1000.0,
			Success:      p.Success,
			TTL:          p.TTL,
			ErrorMessage: p.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleHostStatistics(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	if _, err := s.Store.FindHostByID(id); err != nil {
		writeStoreError(w, err)
		return
	}
	samples := 100
	if v := r.URL.Query().Get("samples"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			samples = n
		}
	}
	stats, err := s.Store.GetStatistics(id, samples)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalPings":        stats.TotalPings,
		"successfulPings":   stats.SuccessfulPings,
		"minLatencyMs":      float64(stats.MinLatency.Microseconds()) / 1000.0,
		"maxLatencyMs":      float64(stats.MaxLatency.Microseconds()) / 1000.0,
		"avgLatencyMs":      float64(stats.AvgLatency.Microseconds()) / 1000.0,
		"jitterMs":          float64(stats.Jitter.Microseconds()) / 1000.0,
		"packetLossPercent": stats.PacketLossPercent,
	})
}

func (s *Server) handleHostExport(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	if _, err := s.Store.FindHostByID(id); err != nil {
		writeStoreError(w, err)
		return
	}
	limit := queryLimit(r, 1000)
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	var (
		body        []byte
		err         error
		contentType string
	)
	switch format {
	case "json":
		body, err = s.Store.ExportPingResultsJSON(id, limit)
		contentType = "application/json"
	case "csv":
		body, err = s.Store.ExportPingResultsCSV(id, limit)
		contentType = "text/csv"
	default:
		writeError(w, http.StatusBadRequest, "format must be json or csv")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=host-%d-metrics.%s", id, format))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handlePortScans(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address parameter is required")
		return
	}
	results, err := s.Store.GetPortScanResults(address, queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	type scanDTO struct {
		ID            int64  `json:"id"`
		TargetAddress string `json:"targetAddress"`
		Port          int    `json:"port"`
		State         string `json:"state"`
		ServiceName   string `json:"serviceName"`
		ScanTimestamp int64  `json:"scanTimestamp"`
	}
	dtos := make([]scanDTO, 0, len(results))
	for _, sr := range results {
		dtos = append(dtos, scanDTO{
			ID:            sr.ID,
			TargetAddress: sr.TargetAddress,
			Port:          sr.Port,
			State:         string(sr.State),
			ServiceName:   sr.ServiceName,
			ScanTimestamp: sr.ScanTimestamp.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeStoreError maps storage sentinels and validation failures onto
// status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, storage.ErrDuplicateAddress):
		writeError(w, http.StatusBadRequest, "A host with that address already exists")
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
