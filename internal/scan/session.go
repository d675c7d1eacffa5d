// Package scan owns the camera device and the continuous QR decode loop,
// turning successful decodes into capture, upload and lookup actions while
// suppressing duplicate detections.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"strawberrytrace/internal/models"
	"strawberrytrace/internal/qrcode"
)

// DedupWindow is how long a repeated identical detection is suppressed.
// A QR code held steady in front of the camera decodes on every frame;
// without this it would re-trigger continuously.
const DedupWindow = 3 * time.Second

// ErrSessionStopped reports that the session was torn down while an
// operation was in flight.
var ErrSessionStopped = errors.New("scan session stopped")

// Backend is the slice of the access layer the session hands detections to.
type Backend interface {
	CapturePhoto(ctx context.Context, filename string, image []byte) (models.Response[models.CapturedPhoto], error)
	SearchStrawberryByQR(ctx context.Context, qrCode string) (models.Response[models.StrawberryFullInfo], error)
}

// Result is delivered once a detection's capture, upload and lookup have
// finished. UploadErr and LookupErr are reported separately; a failed upload
// does not block the lookup.
type Result struct {
	Code      string
	Photo     *models.CapturedPhoto
	Info      *models.StrawberryFullInfo
	UploadErr error
	LookupErr error
}

// Callbacks observe the session. All fields are optional.
type Callbacks struct {
	// OnDetected fires synchronously when a code passes the dedup filter.
	OnDetected func(code string)
	// OnResult fires when the capture/upload/lookup sequence completes.
	OnResult func(Result)
	// OnError fires for camera failures and genuine decoder errors.
	// Per-frame non-detections never reach it.
	OnError func(err error)
}

// Session is the scan state machine. Methods are safe for concurrent use.
type Session struct {
	camera  Camera
	backend Backend
	cb      Callbacks

	mu         sync.Mutex
	state      State
	stream     Stream
	loopCancel context.CancelFunc
	devices    []DeviceInfo
	deviceID   string
	facing     FacingMode
	lastCode   string
	lastAt     time.Time
	gen        uint64

	now      func() time.Time
	primary  frameEncoder
	fallback frameEncoder
	wg       sync.WaitGroup
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionClock injects the time source used by the dedup filter.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithEncoders replaces the frame encode paths.
func WithEncoders(primary, fallback frameEncoder) SessionOption {
	return func(s *Session) { s.primary, s.fallback = primary, fallback }
}

// WithFacing sets the initial facing-mode fallback.
func WithFacing(f FacingMode) SessionOption {
	return func(s *Session) { s.facing = f }
}

// NewSession creates an idle session.
func NewSession(camera Camera, backend Backend, cb Callbacks, opts ...SessionOption) *Session {
	s := &Session{
		camera:   camera,
		backend:  backend,
		cb:       cb,
		state:    Idle,
		facing:   FacingEnvironment,
		now:      time.Now,
		primary:  encodeJPEG,
		fallback: encodeViaDataURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Devices returns the device list from the most recent enumeration.
func (s *Session) Devices() []DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceInfo, len(s.devices))
	copy(out, s.devices)
	return out
}

// RefreshDevices re-enumerates capture devices. The list may be empty or
// stale; Start and SwitchDevice tolerate that.
func (s *Session) RefreshDevices(ctx context.Context) error {
	devices, err := s.camera.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
	return nil
}

// Start requests a stream for deviceID (or the facing-mode default when
// empty) and begins the decode loop. On failure the session stays Idle.
func (s *Session) Start(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	next, err := transition(s.state, evStart)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	gen := s.gen
	constraints := Constraints{DeviceID: deviceID, Facing: s.facing}
	s.mu.Unlock()

	stream, err := s.camera.Open(ctx, constraints)

	s.mu.Lock()
	if s.gen != gen {
		// Stopped while the stream was being opened.
		s.mu.Unlock()
		if stream != nil {
			stream.Stop()
		}
		return ErrSessionStopped
	}
	if err != nil {
		s.state, _ = transition(s.state, evStreamFailed)
		s.mu.Unlock()
		s.reportError(fmt.Errorf("start camera: %w", err))
		return fmt.Errorf("start camera: %w", err)
	}
	s.state, _ = transition(s.state, evStreamReady)
	s.stream = stream
	s.deviceID = deviceID
	s.startLoopLocked(gen)
	s.mu.Unlock()

	// Refresh labels now that the device is open; failure is tolerable.
	if refreshErr := s.RefreshDevices(ctx); refreshErr != nil {
		log.Printf("device enumeration failed: %v", refreshErr)
	}
	return nil
}

// Resume restarts the decode loop on the live stream after a detection
// paused it. The resume is operator-triggered by design.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := transition(s.state, evResume)
	if err != nil {
		return err
	}
	s.state = next
	s.startLoopLocked(s.gen)
	return nil
}

// SwitchDevice stops any active stream and restarts on the next device in
// the enumerated list, wrapping around. With no enumerated devices it
// toggles between the two facing modes instead.
func (s *Session) SwitchDevice(ctx context.Context) error {
	if err := s.RefreshDevices(ctx); err != nil {
		log.Printf("device enumeration failed: %v", err)
	}

	s.mu.Lock()
	var nextID string
	if len(s.devices) > 0 {
		idx := 0
		for i, d := range s.devices {
			if d.ID == s.deviceID {
				idx = (i + 1) % len(s.devices)
				break
			}
		}
		nextID = s.devices[idx].ID
	} else {
		if s.facing == FacingEnvironment {
			s.facing = FacingUser
		} else {
			s.facing = FacingEnvironment
		}
	}
	s.mu.Unlock()

	s.Stop()
	return s.Start(ctx, nextID)
}

// Stop halts the decode loop, releases the stream and clears the dedup
// memory. Safe to call in any state, including mid-capture: in-flight
// continuations complete silently against the torn-down session.
func (s *Session) Stop() {
	s.mu.Lock()
	s.gen++
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	s.lastCode = ""
	s.lastAt = time.Time{}
	s.state, _ = transition(s.state, evStop)
	s.mu.Unlock()
}

// Wait blocks until in-flight capture/upload/lookup goroutines finish.
// Intended for orderly shutdown and tests.
func (s *Session) Wait() {
	s.wg.Wait()
}

// startLoopLocked spawns the decode loop. Caller holds s.mu.
func (s *Session) startLoopLocked(gen uint64) {
	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	stream := s.stream
	s.wg.Add(1)
	go s.runLoop(loopCtx, stream, gen)
}

// runLoop pulls frames and decodes them until cancelled or a detection
// pauses the session.
func (s *Session) runLoop(ctx context.Context, stream Stream, gen uint64) {
	defer s.wg.Done()
	for {
		frame, err := stream.Frame(ctx)
		if err != nil {
			if ctx.Err() == nil && s.currentGen() == gen {
				s.reportError(fmt.Errorf("read frame: %w", err))
			}
			return
		}
		code, err := qrcode.DecodeImage(frame)
		if err != nil {
			if qrcode.IsNotFound(err) {
				// No code in this frame; steady-state noise.
				continue
			}
			s.reportError(fmt.Errorf("decode frame: %w", err))
			continue
		}
		if s.handleDetection(ctx, code, gen) {
			return
		}
	}
}

// handleDetection applies the dedup filter and, for a fresh code, pauses
// detection synchronously before any asynchronous work begins. It reports
// whether the loop should exit.
func (s *Session) handleDetection(ctx context.Context, code string, gen uint64) bool {
	s.mu.Lock()
	if s.gen != gen || s.state != Scanning {
		s.mu.Unlock()
		return true
	}
	now := s.now()
	if s.lastCode == code && now.Sub(s.lastAt) < DedupWindow {
		// Duplicate within the cool-down: no state change, no side effects.
		s.mu.Unlock()
		return false
	}
	s.lastCode = code
	s.lastAt = now
	s.state, _ = transition(s.state, evDetected)
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	stream := s.stream
	s.mu.Unlock()

	if s.cb.OnDetected != nil {
		s.cb.OnDetected(code)
	}

	s.wg.Add(1)
	go s.completeDetection(code, stream, gen, now)
	return true
}

// completeDetection captures the current frame, uploads it and looks the
// code up. If the session was stopped meanwhile, the result is dropped and
// the session is not resurrected.
func (s *Session) completeDetection(code string, stream Stream, gen uint64, at time.Time) {
	defer s.wg.Done()
	ctx := context.Background()
	res := Result{Code: code}

	frame, err := captureFrame(ctx, stream, code, at, s.primary, s.fallback)
	if err != nil {
		// Non-critical to the scan workflow: log, skip the upload.
		log.Printf("frame capture failed: %v", err)
	} else {
		resp, upErr := s.backend.CapturePhoto(ctx, frame.Name, frame.Data)
		if upErr != nil {
			res.UploadErr = upErr
		} else if resp.Success {
			photo := resp.Data
			res.Photo = &photo
		} else {
			res.UploadErr = fmt.Errorf("capture rejected: %s", resp.Message)
		}
	}

	lookup, err := s.backend.SearchStrawberryByQR(ctx, code)
	if err != nil {
		res.LookupErr = err
	} else if lookup.Success {
		info := lookup.Data
		res.Info = &info
	} else {
		res.LookupErr = fmt.Errorf("search rejected: %s", lookup.Message)
	}

	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		return
	}
	if s.cb.OnResult != nil {
		s.cb.OnResult(res)
	}
}

func (s *Session) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) reportError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
		return
	}
	log.Printf("scan session: %v", err)
}
