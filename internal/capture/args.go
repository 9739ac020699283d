package capture

import (
	"fmt"
	"strconv"
)

const (
	defaultFrameRate  = 30
	defaultWebcamSize = 250
)

// buildArgs returns the ffmpeg arguments for one capture on the given OS.
func buildArgs(goos string, sel Selector, outputPath string) ([]string, error) {
	if sel.FrameRate <= 0 {
		sel.FrameRate = defaultFrameRate
	}
	if sel.WebcamSize <= 0 {
		sel.WebcamSize = defaultWebcamSize
	}
	fps := strconv.Itoa(sel.FrameRate)

	args := []string{"-hide_banner", "-loglevel", "error", "-y"}

	// inputs: screen first, then optional webcam, then optional microphone
	var screen, webcam, mic []string
	switch goos {
	case "linux":
		display := sel.Display
		if display == "" {
			display = ":0.0"
		}
		screen = []string{"-f", "x11grab", "-framerate", fps, "-i", display}
		if sel.Webcam != "" {
			webcam = []string{"-f", "v4l2", "-i", sel.Webcam}
		}
		if sel.Microphone != "" {
			mic = []string{"-f", "pulse", "-i", sel.Microphone}
		}
	case "darwin":
		display := sel.Display
		if display == "" {
			display = "1"
		}
		// avfoundation takes "video:audio" in one input
		input := display
		if sel.Microphone != "" {
			input = display + ":" + sel.Microphone
		}
		screen = []string{"-f", "avfoundation", "-capture_cursor", "1", "-framerate", fps, "-i", input}
		if sel.Webcam != "" {
			webcam = []string{"-f", "avfoundation", "-framerate", fps, "-i", sel.Webcam}
		}
	case "windows":
		display := sel.Display
		if display == "" {
			display = "desktop"
		}
		screen = []string{"-f", "gdigrab", "-framerate", fps, "-i", display}
		if sel.Webcam != "" {
			webcam = []string{"-f", "dshow", "-i", "video=" + sel.Webcam}
		}
		if sel.Microphone != "" {
			mic = []string{"-f", "dshow", "-i", "audio=" + sel.Microphone}
		}
	default:
		return nil, fmt.Errorf("screen capture is not supported on %s", goos)
	}

	args = append(args, screen...)
	args = append(args, webcam...)
	args = append(args, mic...)

	if len(webcam) > 0 {
		// webcam scaled to a square overlay in the bottom-right corner
		filter := fmt.Sprintf("[1:v]scale=%d:%d[cam];[0:v][cam]overlay=W-w-20:H-h-20[v]", sel.WebcamSize, sel.WebcamSize)
		args = append(args, "-filter_complex", filter, "-map", "[v]")
		switch {
		case len(mic) > 0:
			args = append(args, "-map", "2:a")
		case goos == "darwin" && sel.Microphone != "":
			args = append(args, "-map", "0:a")
		}
	}

	args = append(args,
		"-r", fps,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "0",
		"-pix_fmt", "yuv420p",
	)
	if len(mic) > 0 || (goos == "darwin" && sel.Microphone != "") {
		args = append(args, "-c:a", "aac")
	}
	args = append(args, outputPath)
	return args, nil
}
