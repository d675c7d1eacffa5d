package models

import (
	"encoding/json"
	"time"
)

// TimeLayout is the timestamp format used by the backend in every response body.
const TimeLayout = "2006-01-02 15:04:05"

// Strawberry represents a single tracked plant.
//
// Search results join the strawberry onto its records and report the status
// under strawberry_status; when both fields are present strawberry_status
// takes precedence over the legacy status field.
type Strawberry struct {
	ID               int    `json:"id"`
	QRCode           string `json:"qr_code"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	Notes            string `json:"notes,omitempty"`
	StrawberryStatus string `json:"strawberry_status,omitempty"`
	LatestRecordedAt string `json:"latest_recorded_at,omitempty"`
}

// EffectiveStatus resolves the status field precedence.
func (s *Strawberry) EffectiveStatus() string {
	if s.StrawberryStatus != "" {
		return s.StrawberryStatus
	}
	if s.Status != "" {
		return s.Status
	}
	return "active"
}

// ObservationRecord is one photographic observation of a strawberry.
type ObservationRecord struct {
	ID               int    `json:"id"`
	StrawberryID     int    `json:"strawberry_id"`
	ImagePath        string `json:"image_path"`
	AIDescription    string `json:"ai_description,omitempty"`
	GrowthStage      string `json:"growth_stage,omitempty"`
	HealthStatus     string `json:"health_status,omitempty"`
	SizeEstimate     string `json:"size_estimate,omitempty"`
	ColorDescription string `json:"color_description,omitempty"`
	RecordedAt       string `json:"recorded_at"`
}

// StrawberryFullInfo is the read-only projection returned by detail and
// QR search queries: the strawberry plus its records, newest first.
type StrawberryFullInfo struct {
	Strawberry Strawberry          `json:"strawberry"`
	Records    []ObservationRecord `json:"records"`
}

// Statistics holds the aggregate counts computed server-side.
type Statistics struct {
	TotalStrawberries    int            `json:"total_strawberries"`
	TotalRecords         int            `json:"total_records"`
	TodayNewStrawberries int            `json:"today_new_strawberries"`
	WeekNewStrawberries  int            `json:"week_new_strawberries"`
	StatusCounts         map[string]int `json:"status_counts"`
	GrowthStageCounts    map[string]int `json:"growth_stage_counts"`
	HealthStatusCounts   map[string]int `json:"health_status_counts"`
}

// AIConfig is the AI provider configuration held by the backend.
type AIConfig struct {
	Enabled      bool    `json:"enabled"`
	Provider     string  `json:"provider"`
	APIKey       string  `json:"api_key"`
	APIURL       string  `json:"api_url,omitempty"`
	AppID        string  `json:"app_id,omitempty"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	CustomPrompt string  `json:"custom_prompt"`
}

// AIStatus reports AI enablement and credential presence without exposing keys.
type AIStatus struct {
	Enabled   bool   `json:"enabled"`
	Provider  string `json:"provider"`
	HasAPIKey bool   `json:"has_api_key"`
}

// AIAnalysis is the result of an /ai/analyze call.
type AIAnalysis struct {
	Description string `json:"description"`
	Provider    string `json:"provider"`
}

// CapturedPhoto describes a raw frame persisted via /photos/capture.
type CapturedPhoto struct {
	Filename  string `json:"filename"`
	SavedPath string `json:"saved_path"`
}

// Response is the envelope every backend endpoint wraps its payload in.
type Response[T any] struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      T      `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// OK builds a success envelope stamped with the current time.
func OK[T any](data T, message string) Response[T] {
	return Response[T]{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Format(TimeLayout),
	}
}

// Fail builds a failure envelope.
func Fail(message string) Response[json.RawMessage] {
	return Response[json.RawMessage]{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().Format(TimeLayout),
	}
}
