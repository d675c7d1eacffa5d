// Command scanner runs the scan workflow against a frame source: it decodes
// QR codes from frames, uploads a capture of each detection and looks the
// plant up through the backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"strawberrytrace/internal/apiclient"
	"strawberrytrace/internal/config"
	"strawberrytrace/internal/scan"
)

func main() {
	framesDir := flag.String("frames", "", "directory of frames standing in for the camera (required)")
	serverFlag := flag.String("server", "", "override backend base URL")
	mock := flag.Bool("mock", false, "enable offline mock fallback for reads")
	autoResume := flag.Duration("auto-resume", 0, "resume scanning after this delay (0 = wait for Enter)")
	debug := flag.Bool("debug", false, "log every API request")
	flag.Parse()

	if *framesDir == "" {
		fmt.Println("--frames required")
		os.Exit(1)
	}

	settings, err := config.OpenSettings(config.DefaultSettingsPath())
	if err != nil {
		log.Fatal("Failed to load settings:", err)
	}
	sysCfg := settings.SystemConfig()
	if *serverFlag != "" {
		sysCfg.APIBaseURL = strings.TrimRight(*serverFlag, "/")
	}

	client := apiclient.New(sysCfg.APIBaseURL,
		apiclient.WithTimeout(sysCfg.APITimeout),
		apiclient.WithMockFallback(*mock || sysCfg.UseMockFallback),
		apiclient.WithDebug(*debug),
	)

	resume := make(chan struct{}, 1)
	session := scan.NewSession(&scan.DirectoryCamera{Dir: *framesDir}, client, scan.Callbacks{
		OnDetected: func(code string) {
			fmt.Println("Detected code:", code)
		},
		OnResult: func(res scan.Result) {
			if res.UploadErr != nil {
				fmt.Println("Capture upload failed:", res.UploadErr)
			} else if res.Photo != nil {
				fmt.Println("Capture saved as", res.Photo.SavedPath)
			}
			if res.LookupErr != nil {
				fmt.Println("Lookup failed:", res.LookupErr)
			} else if res.Info != nil {
				sb := res.Info.Strawberry
				fmt.Printf("Strawberry #%d (%s, %s): %d records\n",
					sb.ID, sb.QRCode, sb.EffectiveStatus(), len(res.Info.Records))
			}
			resume <- struct{}{}
		},
		OnError: func(err error) {
			log.Println("scan error:", err)
		},
	})

	// Remember the frame source like a preferred camera.
	if err := settings.Set(config.KeyPreferredCameraID, *framesDir); err != nil {
		log.Println("Failed to persist camera choice:", err)
	}

	ctx := context.Background()
	if err := session.Start(ctx, *framesDir); err != nil {
		log.Fatal("Failed to start scan session:", err)
	}
	fmt.Println("Scanning", *framesDir, "- Ctrl-C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			session.Stop()
			session.Wait()
			return
		case <-resume:
			if *autoResume > 0 {
				time.Sleep(*autoResume)
			} else {
				fmt.Println("Press Enter to resume scanning")
				fmt.Scanln()
			}
			if err := session.Resume(); err != nil {
				log.Println("resume:", err)
			}
		}
	}
}
