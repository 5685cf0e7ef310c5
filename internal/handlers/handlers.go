package handlers

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kyxap1/geonames-cache/internal/country"
	"github.com/kyxap1/geonames-cache/internal/geoip"
	"github.com/kyxap1/geonames-cache/internal/geonames"
	"github.com/kyxap1/geonames-cache/internal/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	// maxBatchSize caps the identifiers accepted by one batch request
	maxBatchSize = 500
	maxBodyBytes = 1 << 20
)

// APIHandler handles HTTP requests
type APIHandler struct {
	manager geonames.ManagerInterface
	logger  *logrus.Logger
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	XMLName   xml.Name `json:"-" xml:"error_response"`
	Error     string   `json:"error" xml:"error"`
	Message   string   `json:"message" xml:"message"`
	Timestamp string   `json:"timestamp" xml:"timestamp"`
	Status    int      `json:"status" xml:"status"`
}

// countryXML wraps a single country for XML output
type countryXML struct {
	XMLName xml.Name `xml:"country"`
	*types.CountryInfo
}

// countriesXML wraps a batch result for XML output
type countriesXML struct {
	XMLName   xml.Name             `xml:"countries"`
	Countries []*types.CountryInfo `xml:"country"`
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(manager geonames.ManagerInterface, logger *logrus.Logger) *APIHandler {
	return &APIHandler{
		manager: manager,
		logger:  logger,
	}
}

func newErrorResponse(statusCode int, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   errorMsg,
		Timestamp: time.Now().Format(time.RFC3339),
		Status:    statusCode,
	}
}

// sendJSONError sends a standardized JSON error response
func (h *APIHandler) sendJSONError(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(newErrorResponse(statusCode, errorMsg)); err != nil {
		h.logger.Warnf("Failed to encode JSON error: %v", err)
	}
}

// sendXMLError sends a standardized XML error response
func (h *APIHandler) sendXMLError(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(statusCode)

	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(newErrorResponse(statusCode, errorMsg)); err != nil {
		h.logger.Warnf("Failed to encode XML error: %v", err)
	}
}

// sendCSVError sends a standardized CSV error response
func (h *APIHandler) sendCSVError(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(statusCode)

	errorResponse := fmt.Sprintf("Error: %s\nMessage: %s\nStatus: %d\nTimestamp: %s\n",
		http.StatusText(statusCode),
		errorMsg,
		statusCode,
		time.Now().Format(time.RFC3339),
	)

	w.Write([]byte(errorResponse))
}

func (h *APIHandler) sendError(w http.ResponseWriter, format string, statusCode int, errorMsg string) {
	switch format {
	case "xml":
		h.sendXMLError(w, statusCode, errorMsg)
	case "csv":
		h.sendCSVError(w, statusCode, errorMsg)
	default:
		h.sendJSONError(w, statusCode, errorMsg)
	}
}

// statusForError maps service errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, geonames.ErrNotFound), errors.Is(err, geoip.ErrNoCountry):
		return http.StatusNotFound
	case errors.Is(err, geoip.ErrInvalidIP), errors.Is(err, country.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, country.ErrIdentityConflict):
		return http.StatusConflict
	case errors.Is(err, geoip.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// getClientIP extracts the client IP from the request
func (h *APIHandler) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// logStructuredRequest logs the request with structured data
func (h *APIHandler) logStructuredRequest(r *http.Request, status int, duration time.Duration, ip string, responseSize int64) {
	fields := logrus.Fields{
		"method":        r.Method,
		"path":          r.URL.Path,
		"query":         r.URL.RawQuery,
		"status":        status,
		"duration_ms":   duration.Milliseconds(),
		"client_ip":     ip,
		"user_agent":    r.UserAgent(),
		"referer":       r.Referer(),
		"content_type":  r.Header.Get("Content-Type"),
		"response_size": responseSize,
		"remote_addr":   r.RemoteAddr,
		"host":          r.Host,
	}
	vars := mux.Vars(r)
	if id, ok := vars["id"]; ok {
		fields["lookup_id"] = id
	}
	if ip, ok := vars["ip"]; ok {
		fields["lookup_ip"] = ip
	}
	h.logger.WithFields(fields).Info("request_processed")
}

// middleware wraps handlers with logging and security headers
func (h *APIHandler) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(wrapped, r)

		h.logStructuredRequest(r, wrapped.statusCode, time.Since(startTime), h.getClientIP(r), wrapped.size)
	}
}

// responseWriter wraps http.ResponseWriter to capture status and body size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

// lookupOne resolves the {id} route variable, writing an error response in
// format on failure
func (h *APIHandler) lookupOne(w http.ResponseWriter, r *http.Request, format string) (*types.CountryInfo, bool) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		h.sendError(w, format, http.StatusBadRequest, "missing country identifier")
		return nil, false
	}

	info, err := h.manager.LookupOne(r.Context(), id)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("id", id).Error("Country lookup failed")
			h.sendError(w, format, status, "Failed to look up country")
			return nil, false
		}
		h.sendError(w, format, status, err.Error())
		return nil, false
	}
	return info, true
}

// JSONHandler serves one country as JSON
func (h *APIHandler) JSONHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupOne(w, r, "json")
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// XMLHandler serves one country as XML
func (h *APIHandler) XMLHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupOne(w, r, "xml")
	if !ok {
		return
	}
	h.writeXML(w, countryXML{CountryInfo: info})
}

// CSVHandler serves one country as CSV
func (h *APIHandler) CSVHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupOne(w, r, "csv")
	if !ok {
		return
	}
	h.writeCSV(w, []*types.CountryInfo{info})
}

// CountriesHandler serves a batch lookup. GET takes repeated id query
// parameters; POST takes a JSON array of numbers, strings and objects.
// The format query parameter selects json, xml or csv output.
func (h *APIHandler) CountriesHandler(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "xml" && format != "csv" {
		h.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format: %s", format))
		return
	}

	var ids []country.Identifier
	if r.Method == http.MethodPost {
		raw, err := decodeIdentifiers(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			h.sendError(w, format, http.StatusBadRequest, err.Error())
			return
		}
		for _, item := range raw {
			ids = append(ids, country.ParseIdentifier(item))
		}
	} else {
		for _, value := range r.URL.Query()["id"] {
			for _, part := range strings.Split(value, ",") {
				if part = strings.TrimSpace(part); part != "" {
					ids = append(ids, country.ParseIdentifier(part))
				}
			}
		}
	}

	if len(ids) == 0 {
		h.sendError(w, format, http.StatusBadRequest, "no country identifiers given")
		return
	}
	if len(ids) > maxBatchSize {
		h.sendError(w, format, http.StatusBadRequest,
			fmt.Sprintf("too many identifiers: %d (max %d)", len(ids), maxBatchSize))
		return
	}

	countries, err := h.manager.Lookup(r.Context(), ids...)
	if err != nil {
		h.logger.WithError(err).WithField("identifiers", len(ids)).Error("Batch country lookup failed")
		h.sendError(w, format, statusForError(err), "Failed to look up countries")
		return
	}

	switch format {
	case "xml":
		h.writeXML(w, countriesXML{Countries: countries})
	case "csv":
		h.writeCSV(w, countries)
	default:
		h.writeJSON(w, http.StatusOK, countries)
	}
}

func decodeIdentifiers(body io.Reader) ([]interface{}, error) {
	decoder := json.NewDecoder(body)
	decoder.UseNumber()

	var raw []interface{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid request body: expected a JSON array of identifiers: %v", err)
	}
	return raw, nil
}

// IPHandler serves the country an IP address is located in. Without an ip
// route variable the client address is used.
func (h *APIHandler) IPHandler(w http.ResponseWriter, r *http.Request) {
	ip, ok := mux.Vars(r)["ip"]
	if !ok {
		ip = h.getClientIP(r)
	}

	info, err := h.manager.CountryForIP(r.Context(), ip)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("ip", ip).Error("IP country lookup failed")
		}
		h.sendJSONError(w, status, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// HealthHandler handles health check requests
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.manager.GetStatus(r.Context())

	healthy := true
	if database, ok := status["database"].(map[string]interface{}); ok {
		healthy = database["available"] == true
	}

	body := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	}
	code := http.StatusOK
	if !healthy {
		body["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, body)
}

// StatsHandler handles cache and storage statistics requests
func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"cache":  h.manager.GetCacheStats(),
		"status": h.manager.GetStatus(r.Context()),
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warnf("Failed to encode JSON response: %v", err)
	}
}

func (h *APIHandler) writeXML(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warnf("Failed to encode XML response: %v", err)
	}
}

func (h *APIHandler) writeCSV(w http.ResponseWriter, countries []*types.CountryInfo) {
	w.Header().Set("Content-Type", "text/csv")

	writer := csv.NewWriter(w)
	if err := writer.Write(types.CSVHeader()); err != nil {
		h.logger.Warnf("Failed to write CSV header: %v", err)
		return
	}
	for _, info := range countries {
		if err := writer.Write(info.CSVRecord()); err != nil {
			h.logger.Warnf("Failed to write CSV record: %v", err)
			return
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Warnf("Failed to flush CSV response: %v", err)
	}
}

// SetupRoutes configures all HTTP routes
func (h *APIHandler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/json/{id}", h.middleware(h.JSONHandler)).Methods("GET")
	router.HandleFunc("/xml/{id}", h.middleware(h.XMLHandler)).Methods("GET")
	router.HandleFunc("/csv/{id}", h.middleware(h.CSVHandler)).Methods("GET")

	router.HandleFunc("/countries", h.middleware(h.CountriesHandler)).Methods("GET", "POST")

	router.HandleFunc("/ip", h.middleware(h.IPHandler)).Methods("GET")
	router.HandleFunc("/ip/{ip}", h.middleware(h.IPHandler)).Methods("GET")

	router.HandleFunc("/health", h.middleware(h.HealthHandler)).Methods("GET")
	router.HandleFunc("/stats", h.middleware(h.StatsHandler)).Methods("GET")

	// OPTIONS method for CORS
	router.HandleFunc("/{path:.*}", h.middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods("OPTIONS")

	return router
}
