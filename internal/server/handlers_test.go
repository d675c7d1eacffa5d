package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strawberrytrace/internal/ai"
	"strawberrytrace/internal/models"
	"strawberrytrace/internal/qrcode"
	"strawberrytrace/internal/store"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.NewSQLiteDB(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	aiService := ai.NewService(ai.NewConfigStore(filepath.Join(dir, "ai_config.json")))
	srv := New(db, aiService,
		filepath.Join(dir, "images"),
		filepath.Join(dir, "photos"),
		filepath.Join(dir, "qrcodes"),
		false,
	)
	ts := httptest.NewServer(srv.Router(""))
	t.Cleanup(ts.Close)
	return srv, ts
}

func decodeEnvelope[T any](t *testing.T, resp *http.Response) models.Response[T] {
	t.Helper()
	defer resp.Body.Close()
	var out models.Response[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func multipartImage(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func createPlant(t *testing.T, baseURL, prefix, notes string) models.Strawberry {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/strawberries", map[string]string{
		"custom_prefix": prefix,
		"notes":         notes,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope[models.Strawberry](t, resp)
	require.True(t, env.Success)
	return env.Data
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope[map[string]string](t, resp)
	assert.True(t, env.Success)
	assert.Equal(t, "ok", env.Data["status"])
	assert.NotEmpty(t, env.Timestamp)
}

func TestCreateListSearchDetail(t *testing.T) {
	srv, ts := newTestServer(t)

	created := createPlant(t, ts.URL, "PLOT7", "row 3")
	assert.True(t, qrcode.Validate(created.QRCode), "generated code %q", created.QRCode)
	assert.True(t, strings.HasPrefix(created.QRCode, "PLOT7_"))
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, "row 3", created.Notes)

	// The printable QR image was written alongside.
	_, err := os.Stat(filepath.Join(srv.qrDir, "qr_"+created.QRCode+".png"))
	assert.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/strawberries")
	require.NoError(t, err)
	list := decodeEnvelope[[]models.Strawberry](t, resp)
	require.Len(t, list.Data, 1)
	assert.Equal(t, created.ID, list.Data[0].ID)

	resp, err = http.Get(ts.URL + "/api/strawberries/" + itoa(created.ID))
	require.NoError(t, err)
	detail := decodeEnvelope[models.StrawberryFullInfo](t, resp)
	assert.Equal(t, created.QRCode, detail.Data.Strawberry.QRCode)
	assert.Empty(t, detail.Data.Records)

	resp, err = http.Get(ts.URL + "/api/strawberries/search?qr_code=" + created.QRCode)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decodeEnvelope[models.StrawberryFullInfo](t, resp)
	assert.Equal(t, created.ID, found.Data.Strawberry.ID)
}

func itoa(n int) string { return strconv.Itoa(n) }

func TestCreateRejectsBadPrefix(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/strawberries", map[string]string{"custom_prefix": "plot-7"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope[json.RawMessage](t, resp)
	assert.False(t, env.Success)
}

func TestSearchValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/strawberries/search")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/strawberries/search?qr_code=not-a-code")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/strawberries/search?qr_code=SB_20990101_000000_FFFFFFFF")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	env := decodeEnvelope[json.RawMessage](t, resp)
	assert.False(t, env.Success)
	assert.Equal(t, "Strawberry not found", env.Message)
}

func TestGetStrawberryNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/strawberries/999")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateStatus(t *testing.T) {
	_, ts := newTestServer(t)
	created := createPlant(t, ts.URL, "", "")

	resp := postJSON(t, ts.URL+"/api/strawberries/"+itoa(created.ID)+"/status", map[string]string{"status": "inactive"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	listResp, err := http.Get(ts.URL + "/api/strawberries?status=inactive")
	require.NoError(t, err)
	list := decodeEnvelope[[]models.Strawberry](t, listResp)
	require.Len(t, list.Data, 1)

	resp = postJSON(t, ts.URL+"/api/strawberries/"+itoa(created.ID)+"/status", map[string]string{"status": "composted"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/strawberries/999/status", map[string]string{"status": "active"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteStrawberry(t *testing.T) {
	_, ts := newTestServer(t)
	created := createPlant(t, ts.URL, "", "")

	resp := postJSON(t, ts.URL+"/api/strawberries/"+itoa(created.ID)+"/delete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/strawberries/"+itoa(created.ID)+"/delete", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAddRecordStatisticsAndServeImage(t *testing.T) {
	_, ts := newTestServer(t)
	created := createPlant(t, ts.URL, "", "")
	img := pngBytes(t)

	body, contentType := multipartImage(t, "obs.png", img, map[string]string{
		"notes":         "second flower opened",
		"growth_stage":  "flowering",
		"health_status": "healthy",
	})
	resp, err := http.Post(ts.URL+"/api/strawberries/"+itoa(created.ID)+"/records", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decodeEnvelope[models.ObservationRecord](t, resp)
	require.True(t, rec.Success)
	assert.Equal(t, created.ID, rec.Data.StrawberryID)
	assert.NotEmpty(t, rec.Data.ImagePath)
	assert.Equal(t, "flowering", rec.Data.GrowthStage)
	// AI is disabled by default; the operator notes stand in.
	assert.Equal(t, "second flower opened", rec.Data.AIDescription)

	served, err := http.Get(ts.URL + "/api/images/" + rec.Data.ImagePath)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, served.StatusCode)
	got, err := io.ReadAll(served.Body)
	served.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, img, got)

	statsResp, err := http.Get(ts.URL + "/api/statistics")
	require.NoError(t, err)
	stats := decodeEnvelope[models.Statistics](t, statsResp)
	assert.Equal(t, 1, stats.Data.TotalStrawberries)
	assert.Equal(t, 1, stats.Data.TotalRecords)
	assert.Equal(t, 1, stats.Data.TodayNewStrawberries)
	assert.Equal(t, map[string]int{"flowering": 1}, stats.Data.GrowthStageCounts)
	assert.Equal(t, map[string]int{"healthy": 1}, stats.Data.HealthStatusCounts)
}

func TestAddRecordValidation(t *testing.T) {
	_, ts := newTestServer(t)
	created := createPlant(t, ts.URL, "", "")

	body, contentType := multipartImage(t, "obs.png", pngBytes(t), nil)
	resp, err := http.Post(ts.URL+"/api/strawberries/999/records", contentType, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	body, contentType = multipartImage(t, "notes.txt", []byte("not an image"), nil)
	resp, err = http.Post(ts.URL+"/api/strawberries/"+itoa(created.ID)+"/records", contentType, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteRecordRemovesStoredImage(t *testing.T) {
	srv, ts := newTestServer(t)
	created := createPlant(t, ts.URL, "", "")

	body, contentType := multipartImage(t, "obs.png", pngBytes(t), nil)
	resp, err := http.Post(ts.URL+"/api/strawberries/"+itoa(created.ID)+"/records", contentType, body)
	require.NoError(t, err)
	rec := decodeEnvelope[models.ObservationRecord](t, resp)

	stored := filepath.Join(srv.imagesDir, filepath.FromSlash(rec.Data.ImagePath))
	_, err = os.Stat(stored)
	require.NoError(t, err)

	del := postJSON(t, ts.URL+"/api/strawberries/"+itoa(created.ID)+"/records/"+itoa(rec.Data.ID)+"/delete", nil)
	require.Equal(t, http.StatusOK, del.StatusCode)
	del.Body.Close()

	_, err = os.Stat(stored)
	assert.True(t, os.IsNotExist(err), "the stored image must be removed with its record")

	del = postJSON(t, ts.URL+"/api/strawberries/"+itoa(created.ID)+"/records/"+itoa(rec.Data.ID)+"/delete", nil)
	assert.Equal(t, http.StatusNotFound, del.StatusCode)
	del.Body.Close()
}

func TestCapturePhotoStoresAndServes(t *testing.T) {
	_, ts := newTestServer(t)
	img := pngBytes(t)

	body, contentType := multipartImage(t, "capture_SB_20251204_192815_01A789C8_20251204_192816.jpg", img, nil)
	resp, err := http.Post(ts.URL+"/api/photos/capture", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	photo := decodeEnvelope[models.CapturedPhoto](t, resp)
	assert.Equal(t, "capture_SB_20251204_192815_01A789C8_20251204_192816.jpg", photo.Data.Filename)
	assert.True(t, strings.HasPrefix(photo.Data.SavedPath, "photos/"))

	served, err := http.Get(ts.URL + "/api/images/" + photo.Data.SavedPath)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, served.StatusCode)
	got, err := io.ReadAll(served.Body)
	served.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, img, got)

	// Same filename again gets disambiguated instead of overwritten.
	body, contentType = multipartImage(t, "capture_SB_20251204_192815_01A789C8_20251204_192816.jpg", img, nil)
	resp, err = http.Post(ts.URL+"/api/photos/capture", contentType, body)
	require.NoError(t, err)
	second := decodeEnvelope[models.CapturedPhoto](t, resp)
	assert.NotEqual(t, photo.Data.Filename, second.Data.Filename)
}

func TestServeImageNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/images/nope.jpg")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAIConfigLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/ai/config")
	require.NoError(t, err)
	cfg := decodeEnvelope[models.AIConfig](t, resp)
	assert.False(t, cfg.Data.Enabled)
	assert.Equal(t, "openai", cfg.Data.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Data.Model)

	// Partial update: untouched fields keep their stored values.
	update := postJSON(t, ts.URL+"/api/ai/config", map[string]any{"enabled": true, "api_key": "sk-test"})
	require.Equal(t, http.StatusOK, update.StatusCode)
	update.Body.Close()

	resp, err = http.Get(ts.URL + "/api/ai/config")
	require.NoError(t, err)
	cfg = decodeEnvelope[models.AIConfig](t, resp)
	assert.True(t, cfg.Data.Enabled)
	assert.Equal(t, "sk-test", cfg.Data.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Data.Model)

	resp, err = http.Get(ts.URL + "/api/ai/status")
	require.NoError(t, err)
	status := decodeEnvelope[models.AIStatus](t, resp)
	assert.True(t, status.Data.Enabled)
	assert.True(t, status.Data.HasAPIKey)
	assert.Equal(t, "openai", status.Data.Provider)
}

func TestAnalyzeRejectedWhileDisabled(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartImage(t, "obs.png", pngBytes(t), nil)
	resp, err := http.Post(ts.URL+"/api/ai/analyze", contentType, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope[json.RawMessage](t, resp)
	assert.Equal(t, "AI service is disabled", env.Message)

	testResp := postJSON(t, ts.URL+"/api/ai/test", nil)
	assert.Equal(t, http.StatusBadRequest, testResp.StatusCode)
	testResp.Body.Close()
}

func TestWebSocketBroadcastsCreate(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	// Give the server a moment to register the subscriber.
	time.Sleep(100 * time.Millisecond)

	created := createPlant(t, ts.URL, "", "")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventStrawberryCreated, ev.Type)

	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, created.QRCode, data["qr_code"])
}
