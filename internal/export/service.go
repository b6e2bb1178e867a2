package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Export renders a dataset snapshot in the requested format and returns
// the bytes with their content type.
func (s *Service) Export(ctx context.Context, dataset Dataset, format string) ([]byte, string, error) {
	columns, rows, err := s.repo.Rows(ctx, dataset)
	if err != nil {
		return nil, "", err
	}

	switch format {
	case FormatJSON:
		raw, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal dataset: %w", err)
		}
		return raw, "application/json", nil
	case FormatCSV, "":
		var buf bytes.Buffer
		if err := WriteCSV(&buf, columns, rows); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unknown format: %s", format)
	}
}

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/exports/{dataset}", h.handleExport).Methods(http.MethodGet)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	dataset := Dataset(mux.Vars(r)["dataset"])
	format := r.URL.Query().Get("format")

	content, contentType, err := h.service.Export(r.Context(), dataset, format)
	if err != nil {
		h.logger.Error("Export failed",
			zap.Error(err),
			zap.String("dataset", string(dataset)),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
