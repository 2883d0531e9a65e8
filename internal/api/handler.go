// Package api serves feature extraction over HTTP.
package api

import (
	"Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/engine/extractor"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/writer"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxBodyBytes bounds the size of a request body.
const maxBodyBytes = 1 << 20

var errOutsideRoot = errors.New("path is outside the capture root")

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	extractor   *extractor.Extractor
	captureRoot string
}

// NewRouter wires the API routes. metrics may be nil.
func NewRouter(ex *extractor.Extractor, metrics http.Handler, captureRoot string) *mux.Router {
	h := &APIHandler{extractor: ex, captureRoot: captureRoot}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/header", h.headerHandler).Methods("GET")
	r.HandleFunc("/api/v1/extract", h.extractHandler).Methods("POST")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}
	return r
}

// headerHandler returns the header shared by every row.
func (h *APIHandler) headerHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := writer.HeaderMessage(h.extractor.Header())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode header: %v", err), http.StatusInternalServerError)
		return
	}
	writeMessage(w, msg)
}

// extractHandler computes the row of one capture. The request is a JSON
// object with enc_path and optional clear_path and label.
func (h *APIHandler) extractHandler(w http.ResponseWriter, r *http.Request) {
	var req structpb.Struct
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := protojson.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}

	fields := req.GetFields()
	capture := model.Capture{
		Label:     fields["label"].GetStringValue(),
		ClearPath: fields["clear_path"].GetStringValue(),
		EncPath:   fields["enc_path"].GetStringValue(),
	}
	if capture.ClearPath == "" && capture.EncPath == "" {
		http.Error(w, "request needs enc_path or clear_path", http.StatusBadRequest)
		return
	}
	for _, p := range []*string{&capture.ClearPath, &capture.EncPath} {
		if *p == "" {
			continue
		}
		if *p, err = h.resolve(*p); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	row, err := h.extractor.Extract(capture)
	if err != nil {
		logger.Warnf("API extraction of %s failed: %v", capture.EncPath, err)
		http.Error(w, fmt.Sprintf("failed to extract features: %v", err), statusOf(err))
		return
	}

	msg, err := writer.RowMessage(row)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode row: %v", err), http.StatusInternalServerError)
		return
	}
	writeMessage(w, msg)
}

// resolve confines path to the capture root when one is configured.
func (h *APIHandler) resolve(path string) (string, error) {
	if h.captureRoot == "" {
		return path, nil
	}
	root, err := filepath.Abs(h.captureRoot)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, path)
	}
	return path, nil
}

// statusOf maps extraction errors: configuration problems are the
// server's, everything else is about the submitted capture.
func statusOf(err error) int {
	if extractor.IsFatalRun(err) {
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func writeMessage(w http.ResponseWriter, msg proto.Message) {
	jsonBytes, err := protojson.Marshal(msg)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}
