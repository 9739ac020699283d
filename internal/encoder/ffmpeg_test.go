package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_qsv             H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (Intel Quick Sync Video acceleration) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	probeErr error
	fail     map[string]bool
	// output is written to the target path on success when set.
	output string
}

func (f *fakeRunner) run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)

	if len(args) == 2 && args[1] == "-encoders" {
		if f.probeErr != nil {
			return nil, f.probeErr
		}
		return []byte(encodersOutput), nil
	}

	enc := argAfter(args, "-c:v")
	if f.fail[enc] {
		return []byte("encoder init failed"), errors.New("exit status 1")
	}
	if f.output != "" {
		if err := os.WriteFile(args[len(args)-1], []byte(f.output), 0o644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeRunner) encodersTried() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if enc := argAfter(c, "-c:v"); enc != "" {
			out = append(out, enc)
		}
	}
	return out
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func writeRaw(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording-1.mkv")
	if err := os.WriteFile(path, []byte("raw"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscodeFallsBackToSoftware(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"h264_qsv": true}}
	tr := NewFFmpegTranscoder(Config{Runner: runner.run, Logger: zaptest.NewLogger(t)})

	raw := writeRaw(t)
	out, err := tr.Transcode(context.Background(), raw)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if out != strings.TrimSuffix(raw, ".mkv")+".mp4" {
		t.Fatalf("output = %q", out)
	}

	// nvenc and videotoolbox are filtered out by the probe
	got := runner.encodersTried()
	want := []string{"h264_qsv", "libx264"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("encoders tried = %v, want %v", got, want)
	}
}

func TestTranscodeSoftwareArgs(t *testing.T) {
	runner := &fakeRunner{}
	tr := NewFFmpegTranscoder(Config{Encoders: []string{"libx264"}, Runner: runner.run})

	if _, err := tr.Transcode(context.Background(), writeRaw(t)); err != nil {
		t.Fatal(err)
	}
	last := strings.Join(runner.calls[len(runner.calls)-1], " ")
	for _, want := range []string{"-preset ultrafast", "-crf 17", "-tune zerolatency", "-threads 4", "-movflags +faststart"} {
		if !strings.Contains(last, want) {
			t.Errorf("args %q missing %q", last, want)
		}
	}
}

func TestTranscodeAllFail(t *testing.T) {
	runner := &fakeRunner{
		probeErr: errors.New("probe failed"),
		fail:     map[string]bool{"h264_nvenc": true, "h264_qsv": true, "h264_videotoolbox": true, "libx264": true},
	}
	tr := NewFFmpegTranscoder(Config{Runner: runner.run, Logger: zaptest.NewLogger(t)})

	_, err := tr.Transcode(context.Background(), writeRaw(t))
	var terr *TranscodeError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TranscodeError, got %T: %v", err, err)
	}
	if len(terr.Attempts) != len(DefaultEncoders) {
		t.Fatalf("attempts = %d, want %d", len(terr.Attempts), len(DefaultEncoders))
	}
}

func TestTranscodeKeepsExistingOutput(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "demo.mkv")
	previous := filepath.Join(dir, "demo.mp4")
	for path, data := range map[string]string{raw: "raw", previous: "previous recording"} {
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("success picks a free name", func(t *testing.T) {
		runner := &fakeRunner{output: "new"}
		tr := NewFFmpegTranscoder(Config{Encoders: []string{"libx264"}, Runner: runner.run, Logger: zaptest.NewLogger(t)})

		out, err := tr.Transcode(context.Background(), raw)
		if err != nil {
			t.Fatalf("Transcode: %v", err)
		}
		if out != filepath.Join(dir, "demo-1.mp4") {
			t.Fatalf("output = %q", out)
		}
		if data, _ := os.ReadFile(out); string(data) != "new" {
			t.Fatalf("output content = %q", data)
		}
		assertContent(t, previous, "previous recording")
		os.Remove(out)
	})

	t.Run("failure leaves it alone", func(t *testing.T) {
		runner := &fakeRunner{fail: map[string]bool{"libx264": true}}
		tr := NewFFmpegTranscoder(Config{Encoders: []string{"libx264"}, Runner: runner.run, Logger: zaptest.NewLogger(t)})

		if _, err := tr.Transcode(context.Background(), raw); err == nil {
			t.Fatal("expected transcode error")
		}
		assertContent(t, previous, "previous recording")
		if _, err := os.Stat(filepath.Join(dir, "demo-1.mp4")); !os.IsNotExist(err) {
			t.Fatalf("reserved output not cleaned up: %v", err)
		}
	})
}

func assertContent(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if string(data) != want {
		t.Fatalf("%s = %q, want %q", path, data, want)
	}
}

func TestTranscodeMissingInput(t *testing.T) {
	tr := NewFFmpegTranscoder(Config{Runner: (&fakeRunner{}).run})
	_, err := tr.Transcode(context.Background(), filepath.Join(t.TempDir(), "nope.mkv"))
	var terr *TranscodeError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TranscodeError, got %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	tests := map[string]string{
		"/v/recording-1.webm": "/v/recording-1.mp4",
		"/v/recording-1.mkv":  "/v/recording-1.mp4",
		"/v/recording-1.mp4":  "/v/recording-1-converted.mp4",
	}
	for in, want := range tests {
		if got := OutputPath(in); got != want {
			t.Errorf("OutputPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseEncoders(t *testing.T) {
	got := parseEncoders([]byte(encodersOutput))
	if !got["libx264"] || !got["h264_qsv"] || !got["aac"] {
		t.Fatalf("parsed = %v", got)
	}
	if got["h264_nvenc"] || got["="] {
		t.Fatalf("unexpected entries: %v", got)
	}
}
