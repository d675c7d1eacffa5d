package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"strawberrytrace/internal/ai"
	"strawberrytrace/internal/models"
	"strawberrytrace/internal/qrcode"
)

const maxUploadBytes = 16 << 20

var prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"}, "Service is healthy")
}

func (s *Server) handleListStrawberries(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	strawberries, err := s.db.ListStrawberries(r.Context(), status, limit)
	if err != nil {
		log.Printf("list strawberries: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list strawberries")
		return
	}
	if strawberries == nil {
		strawberries = []models.Strawberry{}
	}
	writeSuccess(w, strawberries, "Success")
}

func (s *Server) handleCreateStrawberry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes        string `json:"notes"`
		CustomPrefix string `json:"custom_prefix"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.CustomPrefix != "" && !prefixPattern.MatchString(req.CustomPrefix) {
		writeError(w, http.StatusBadRequest, "custom_prefix must be 1-8 uppercase letters or digits")
		return
	}

	now := time.Now()
	code := qrcode.Generate(req.CustomPrefix, now)
	strawberry, err := s.db.CreateStrawberry(r.Context(), code, req.Notes, now)
	if err != nil {
		log.Printf("create strawberry: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create strawberry")
		return
	}

	// The printable QR image is a convenience; creation succeeds without it.
	if err := s.writeQRImage(code); err != nil {
		log.Printf("write qr image for %s: %v", code, err)
	}

	s.broadcast(EventStrawberryCreated, strawberry)
	writeSuccess(w, strawberry, "Strawberry created")
}

func (s *Server) writeQRImage(code string) error {
	img, err := qrcode.EncodeImage(code, 256)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.qrDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(s.qrDir, "qr_"+code+".png"))
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func pathID(r *http.Request, key string) (int, error) {
	return strconv.Atoi(mux.Vars(r)[key])
}

func (s *Server) handleGetStrawberry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strawberry id")
		return
	}
	info, err := s.db.GetFullInfo(r.Context(), id)
	if err != nil {
		log.Printf("get strawberry %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to load strawberry")
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "Strawberry not found")
		return
	}
	writeSuccess(w, info, "Success")
}

func (s *Server) handleSearchStrawberry(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("qr_code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "qr_code is required")
		return
	}
	if !qrcode.Validate(code) {
		writeError(w, http.StatusBadRequest, "invalid qr_code format")
		return
	}
	info, err := s.db.FindByQRCode(r.Context(), code)
	if err != nil {
		log.Printf("search %s: %v", code, err)
		writeError(w, http.StatusInternalServerError, "Search failed")
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "Strawberry not found")
		return
	}
	writeSuccess(w, info, "Success")
}

func (s *Server) handleDeleteStrawberry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strawberry id")
		return
	}
	if err := s.db.DeleteStrawberry(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Strawberry not found")
			return
		}
		log.Printf("delete strawberry %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to delete strawberry")
		return
	}
	s.broadcast(EventStrawberryDeleted, map[string]int{"id": id})
	writeSuccess(w, nil, "Strawberry deleted")
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strawberry id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status != "active" && req.Status != "inactive" {
		writeError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}
	if err := s.db.UpdateStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Strawberry not found")
			return
		}
		log.Printf("update status %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to update status")
		return
	}
	s.broadcast(EventStatusChanged, map[string]any{"id": id, "status": req.Status})
	writeSuccess(w, nil, "Status updated")
}

// readImageUpload pulls the "image" part out of a multipart request.
func readImageUpload(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return "", nil, fmt.Errorf("image file is required")
	}
	defer file.Close()
	if !allowedImage(header.Filename) {
		return "", nil, fmt.Errorf("unsupported image type")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return header.Filename, data, nil
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strawberry id")
		return
	}
	info, err := s.db.GetFullInfo(r.Context(), id)
	if err != nil {
		log.Printf("load strawberry %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to load strawberry")
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "Strawberry not found")
		return
	}

	filename, data, err := readImageUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := time.Now()
	imagePath, err := saveImage(s.imagesDir, filename, data, now)
	if err != nil {
		log.Printf("save record image: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to store image")
		return
	}

	record := &models.ObservationRecord{
		StrawberryID: id,
		ImagePath:    imagePath,
		GrowthStage:  r.FormValue("growth_stage"),
		HealthStatus: r.FormValue("health_status"),
		RecordedAt:   now.Format(models.TimeLayout),
	}
	if notes := r.FormValue("notes"); notes != "" {
		record.AIDescription = notes
	}

	// Best-effort enrichment; a record is still valuable without it.
	if analysis, aiErr := s.ai.Analyze(r.Context(), data); aiErr == nil {
		record.AIDescription = analysis.Description
	} else if !errors.Is(aiErr, ai.ErrDisabled) {
		log.Printf("ai analysis skipped: %v", aiErr)
	}

	if err := s.db.AddRecord(r.Context(), record); err != nil {
		log.Printf("add record: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to add record")
		return
	}
	s.broadcast(EventRecordAdded, record)
	writeSuccess(w, record, "Record added")
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strawberry id")
		return
	}
	rid, err := pathID(r, "rid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	record, err := s.db.GetRecord(r.Context(), id, rid)
	if err != nil {
		log.Printf("load record %d/%d: %v", id, rid, err)
		writeError(w, http.StatusInternalServerError, "Failed to load record")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	if err := s.db.DeleteRecord(r.Context(), id, rid); err != nil {
		log.Printf("delete record %d/%d: %v", id, rid, err)
		writeError(w, http.StatusInternalServerError, "Failed to delete record")
		return
	}
	// Remove the stored image too; a missing file is not an error.
	if full, ok := s.resolveImage(record.ImagePath); ok {
		if err := os.Remove(full); err != nil {
			log.Printf("remove image %s: %v", record.ImagePath, err)
		}
	}
	s.broadcast(EventRecordDeleted, map[string]int{"strawberry_id": id, "record_id": rid})
	writeSuccess(w, nil, "Record deleted")
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStatistics(r.Context(), time.Now())
	if err != nil {
		log.Printf("statistics: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}
	writeSuccess(w, stats, "Success")
}

func (s *Server) handleGetAIConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ai.Config()
	if err != nil {
		log.Printf("ai config: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load AI config")
		return
	}
	writeSuccess(w, cfg, "Success")
}

func (s *Server) handleUpdateAIConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ai.Config()
	if err != nil {
		log.Printf("ai config: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load AI config")
		return
	}
	// Partial update: absent fields keep their stored values.
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.ai.Update(cfg); err != nil {
		log.Printf("save ai config: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save AI config")
		return
	}
	writeSuccess(w, nil, "AI config updated")
}

func (s *Server) handleTestAI(w http.ResponseWriter, r *http.Request) {
	if err := s.ai.TestConnection(r.Context()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, nil, "AI connection OK")
}

func (s *Server) handleAIStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ai.Status()
	if err != nil {
		log.Printf("ai status: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load AI status")
		return
	}
	writeSuccess(w, status, "Success")
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	_, data, err := readImageUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	analysis, err := s.ai.Analyze(r.Context(), data)
	if err != nil {
		if errors.Is(err, ai.ErrDisabled) {
			writeError(w, http.StatusBadRequest, "AI service is disabled")
			return
		}
		log.Printf("ai analyze: %v", err)
		writeError(w, http.StatusBadGateway, "AI analysis failed")
		return
	}
	writeSuccess(w, analysis, "Analysis complete")
}

func (s *Server) handleCapturePhoto(w http.ResponseWriter, r *http.Request) {
	filename, data, err := readImageUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, err := savePhoto(s.photoDir, filename, data, time.Now())
	if err != nil {
		log.Printf("save photo: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to store photo")
		return
	}
	writeSuccess(w, models.CapturedPhoto{
		Filename:  name,
		SavedPath: filepath.ToSlash(filepath.Join(filepath.Base(s.photoDir), name)),
	}, "Photo saved")
}

func (s *Server) handleServeImage(w http.ResponseWriter, r *http.Request) {
	requested := mux.Vars(r)["path"]
	full, ok := s.resolveImage(requested)
	if !ok {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}
	http.ServeFile(w, r, full)
}
