package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/frotaapp/capture/internal/extract"
	"github.com/frotaapp/capture/internal/identity"
)

// maxUploadBytes bounds multipart uploads; phone photos can be large
// before preprocessing shrinks them.
const maxUploadBytes = int64(50 << 20) // 50MB

// CaptureService is the surface the HTTP server drives. The live-scan
// API is not exposed here: browsers run the viewfinder client-side and
// post stills or decoded payloads.
type CaptureService interface {
	CaptureFromImage(ctx context.Context, ident identity.Context, data []byte, contentType string) (*ExpenseRecord, error)
	CapturePhotoEvidence(ctx context.Context, ident identity.Context, data []byte, contentType string) (*ExpenseRecord, error)
	SubmitManualKey(ctx context.Context, ident identity.Context, raw string) (*ExpenseRecord, error)
	SubmitManualDraft(ctx context.Context, ident identity.Context, draft *ExpenseDraft) (*ExpenseRecord, error)
	ListRecords(ident identity.Context) ([]*ExpenseRecord, error)
	State() State
	Message() string
}

// BasicAuth holds basic authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests for the capture pipeline.
type Server struct {
	service   CaptureService
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// NewServer creates a new Server with a default mux.
func NewServer(service CaptureService, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing.
func NewServerWithMux(service CaptureService, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// Start begins listening on the given address.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/captures", s.withAuth(s.handleCaptureImage))
	s.mux.HandleFunc("POST /api/captures/manual", s.withAuth(s.handleManual))
	s.mux.HandleFunc("GET /api/records", s.withAuth(s.handleListRecords))
	s.mux.HandleFunc("GET /api/state", s.withAuth(s.handleState))
	s.mux.HandleFunc("OPTIONS /", s.handleOptions)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Owner-ID, X-Tenant-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// authenticate checks basic auth credentials.
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="capture"`)
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next(w, r)
	}
}

// identityFrom reads the caller identity supplied by the auth layer in
// front of this service. Both headers are required.
func identityFrom(r *http.Request) (identity.Context, error) {
	ident := identity.Context{
		OwnerID:  r.Header.Get("X-Owner-ID"),
		TenantID: r.Header.Get("X-Tenant-ID"),
	}
	return ident, ident.Validate()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleCaptureImage(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")

	var record *ExpenseRecord
	if r.FormValue("mode") == "evidence" {
		record, err = s.service.CapturePhotoEvidence(r.Context(), ident, data, contentType)
	} else {
		record, err = s.service.CaptureFromImage(r.Context(), ident, data, contentType)
	}
	if err != nil {
		s.writeCaptureError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// manualRequest carries either a fiscal key or a draft. Draft numerics
// arrive as strings from form inputs and are parsed here.
type manualRequest struct {
	FiscalKey string       `json:"fiscal_key,omitempty"`
	Draft     *manualDraft `json:"draft,omitempty"`
}

type manualDraft struct {
	OdometerKm    string `json:"odometer_km"`
	FuelType      string `json:"fuel_type"`
	Liters        string `json:"liters"`
	PricePerLiter string `json:"price_per_liter"`
	TotalValue    string `json:"total_value"`
}

func (d *manualDraft) parse() (*ExpenseDraft, error) {
	fuel, err := ParseFuelType(d.FuelType)
	if err != nil {
		return nil, err
	}

	draft := &ExpenseDraft{FuelType: fuel}
	for _, field := range []struct {
		name string
		raw  string
		dest *float64
	}{
		{"odometer_km", d.OdometerKm, &draft.OdometerKm},
		{"liters", d.Liters, &draft.Liters},
		{"price_per_liter", d.PricePerLiter, &draft.PricePerLiter},
		{"total_value", d.TotalValue, &draft.TotalValue},
	} {
		if field.raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(field.raw), 64)
		if err != nil {
			return nil, &ManualDraftFieldError{Field: field.name, Value: field.raw}
		}
		*field.dest = v
	}

	return draft, draft.Validate()
}

// ManualDraftFieldError rejects a draft field that is not a number.
type ManualDraftFieldError struct {
	Field string
	Value string
}

func (e *ManualDraftFieldError) Error() string {
	return "draft field " + e.Field + " must be a number, got " + strconv.Quote(e.Value)
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req manualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var record *ExpenseRecord
	switch {
	case req.FiscalKey != "":
		record, err = s.service.SubmitManualKey(r.Context(), ident, req.FiscalKey)
	case req.Draft != nil:
		var draft *ExpenseDraft
		draft, err = req.Draft.parse()
		if err == nil {
			record, err = s.service.SubmitManualDraft(r.Context(), ident, draft)
		}
	default:
		writeError(w, http.StatusBadRequest, "Either fiscal_key or draft is required")
		return
	}
	if err != nil {
		s.writeCaptureError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	records, err := s.service.ListRecords(ident)
	if err != nil {
		slog.Error("Error listing records", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"state":   s.service.State().String(),
		"message": s.service.Message(),
	})
}

// writeCaptureError maps pipeline errors onto HTTP statuses the mobile
// client can act on.
func (s *Server) writeCaptureError(w http.ResponseWriter, err error) {
	var manualErr *ManualValidationError
	var fieldErr *ManualDraftFieldError
	var uploadErr *UploadError

	switch {
	case errors.Is(err, extract.ErrNoCodeFound):
		writeError(w, http.StatusUnprocessableEntity, "No QR code or fiscal key located. Try a sharper photo or enter the key manually.")
	case errors.As(err, &manualErr), errors.As(err, &fieldErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCaptureInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &uploadErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("Capture failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
