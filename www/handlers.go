package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dvasquez01/pyomron-fins/fins"
	"github.com/dvasquez01/pyomron-fins/gateway"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON serializes v with a 200 status.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps controller client errors to HTTP status codes: validation
// problems are the caller's fault, timeouts are gateway timeouts, and
// connection or protocol failures are bad upstream responses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fins.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, fins.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, fins.ErrConnection), errors.Is(err, fins.ErrProtocol), errors.Is(err, fins.ErrTransport):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// writeNotFound reports an unknown controller or tag.
func writeNotFound(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// writeBadRequest reports a malformed request.
func writeBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// plcName extracts and unescapes the controller name URL parameter.
func plcName(r *http.Request) string {
	name := chi.URLParam(r, "name")
	name, _ = url.PathUnescape(name)
	return name
}

// plcSummary is the JSON shape for a managed controller.
type plcSummary struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Transport string `json:"transport"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Model     string `json:"model,omitempty"`
	Version   string `json:"version,omitempty"`
	TagCount  int    `json:"tag_count"`
}

func summarize(plc *gateway.ManagedPLC) plcSummary {
	transport := plc.Config.Transport
	if transport == "" {
		transport = "udp"
	}
	s := plcSummary{
		Name:      plc.Config.Name,
		Host:      plc.Config.Host,
		Port:      plc.Config.GetPort(),
		Transport: transport,
		Status:    plc.GetStatus().String(),
		TagCount:  len(plc.Config.Tags),
	}
	if err := plc.GetError(); err != nil {
		s.Error = err.Error()
	}
	if info := plc.GetInfo(); info != nil {
		s.Model = info.Model
		s.Version = info.Version
	}
	return s
}

// handleHealth reports API liveness.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handlePLCList returns all managed controllers.
func (h *Handlers) handlePLCList(w http.ResponseWriter, r *http.Request) {
	plcs := h.gw.ListPLCs()
	out := make([]plcSummary, 0, len(plcs))
	for _, plc := range plcs {
		out = append(out, summarize(plc))
	}
	writeJSON(w, out)
}

// handlePLCGet returns one controller's summary.
func (h *Handlers) handlePLCGet(w http.ResponseWriter, r *http.Request) {
	plc := h.gw.GetPLC(plcName(r))
	if plc == nil {
		writeNotFound(w, "PLC not found")
		return
	}
	writeJSON(w, summarize(plc))
}

// tagValueJSON is the JSON shape for a cached tag reading.
type tagValueJSON struct {
	Name    string      `json:"name"`
	Address string      `json:"address"`
	Value   interface{} `json:"value"`
	Error   string      `json:"error,omitempty"`
	Updated time.Time   `json:"updated"`
}

// handlePLCValues returns the cached tag values for one controller.
func (h *Handlers) handlePLCValues(w http.ResponseWriter, r *http.Request) {
	plc := h.gw.GetPLC(plcName(r))
	if plc == nil {
		writeNotFound(w, "PLC not found")
		return
	}

	values := plc.GetValues()
	out := make([]tagValueJSON, 0, len(values))
	for _, v := range values {
		tv := tagValueJSON{
			Name:    v.Name,
			Address: v.Address,
			Value:   v.GoValue(),
			Updated: v.Updated,
		}
		if v.Error != nil {
			tv.Error = v.Error.Error()
		}
		out = append(out, tv)
	}
	writeJSON(w, out)
}

// handlePLCRead performs an ad-hoc word read. Query parameters: address
// (required) and count (default 1).
func (h *Handlers) handlePLCRead(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeBadRequest(w, "missing address parameter")
		return
	}

	count := uint16(1)
	if s := r.URL.Query().Get("count"); s != "" {
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil || n == 0 {
			writeBadRequest(w, "invalid count parameter")
			return
		}
		count = uint16(n)
	}

	words, err := h.gw.ReadAdhoc(plcName(r), address, count)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"address": address,
		"count":   count,
		"values":  words,
	})
}

// writeBody is the JSON request body for a write. Either tag (a configured,
// writable tag name) or address (raw) must be set.
type writeBody struct {
	Tag     string   `json:"tag,omitempty"`
	Address string   `json:"address,omitempty"`
	Values  []uint16 `json:"values"`
}

// handlePLCWrite writes words to a configured tag or a raw address.
func (h *Handlers) handlePLCWrite(w http.ResponseWriter, r *http.Request) {
	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body.Values) == 0 {
		writeBadRequest(w, "missing values")
		return
	}
	if (body.Tag == "") == (body.Address == "") {
		writeBadRequest(w, "exactly one of tag or address must be set")
		return
	}

	name := plcName(r)
	var err error
	if body.Tag != "" {
		err = h.gw.WriteTag(name, body.Tag, body.Values)
	} else {
		err = h.gw.WriteAdhoc(name, body.Address, body.Values)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]bool{"success": true})
}

// handlePLCStatus reads the controller run/mode flags.
func (h *Handlers) handlePLCStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.gw.ControllerStatus(plcName(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]bool{
		"run_mode":        status.RunMode,
		"program_mode":    status.ProgramMode,
		"fatal_error":     status.FatalError,
		"non_fatal_error": status.NonFatalError,
	})
}

// handlePLCClock reads the controller real-time clock.
func (h *Handlers) handlePLCClock(w http.ResponseWriter, r *http.Request) {
	clock, err := h.gw.ControllerClock(plcName(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]int{
		"year":        clock.Year,
		"month":       clock.Month,
		"day":         clock.Day,
		"hour":        clock.Hour,
		"minute":      clock.Minute,
		"second":      clock.Second,
		"day_of_week": clock.DayOfWeek,
	})
}
