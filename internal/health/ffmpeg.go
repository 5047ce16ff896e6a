package health

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FFmpeg codecs still extraction depends on.
var (
	requiredDecoders = []string{"h264"}
	requiredEncoders = []string{"png"}
)

// FFmpegChecker verifies the ffmpeg binary runs and can decode video into
// PNG frames.
type FFmpegChecker struct {
	binaryPath string
	timeout    time.Duration
}

// NewFFmpegChecker creates a checker for binaryPath, looking ffmpeg up in
// PATH when it is empty.
func NewFFmpegChecker(binaryPath string) *FFmpegChecker {
	if binaryPath == "" {
		if path, err := exec.LookPath("ffmpeg"); err == nil {
			binaryPath = path
		}
	}

	return &FFmpegChecker{
		binaryPath: binaryPath,
		timeout:    5 * time.Second,
	}
}

// Name returns the name of the checker.
func (f *FFmpegChecker) Name() string {
	return "ffmpeg"
}

// Check performs the FFmpeg health check.
func (f *FFmpegChecker) Check(ctx context.Context) error {
	if err := f.checkBinary(ctx); err != nil {
		return fmt.Errorf("ffmpeg binary check failed: %w", err)
	}

	if err := f.checkCodecs(ctx, "-decoders", requiredDecoders); err != nil {
		return fmt.Errorf("decoder check failed: %w", err)
	}
	if err := f.checkCodecs(ctx, "-encoders", requiredEncoders); err != nil {
		return fmt.Errorf("encoder check failed: %w", err)
	}

	return nil
}

// Details reports the ffmpeg version line.
func (f *FFmpegChecker) Details(ctx context.Context) map[string]interface{} {
	details := map[string]interface{}{
		"binary_path": f.binaryPath,
	}
	if v, err := f.version(ctx); err == nil {
		details["version"] = v
	}
	return details
}

func (f *FFmpegChecker) run(ctx context.Context, args ...string) (string, error) {
	if f.binaryPath == "" {
		return "", fmt.Errorf("ffmpeg binary not found in PATH")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := exec.CommandContext(cmdCtx, f.binaryPath, append([]string{"-hide_banner"}, args...)...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *FFmpegChecker) checkBinary(ctx context.Context) error {
	if _, err := f.version(ctx); err != nil {
		return err
	}
	return nil
}

func (f *FFmpegChecker) version(ctx context.Context) (string, error) {
	// -hide_banner does not suppress -version output
	out, err := f.run(ctx, "-version")
	if err != nil {
		return "", fmt.Errorf("ffmpeg version check failed: %w", err)
	}
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	if !strings.HasPrefix(line, "ffmpeg version") {
		return "", fmt.Errorf("unexpected ffmpeg version output")
	}
	return line, nil
}

func (f *FFmpegChecker) checkCodecs(ctx context.Context, listFlag string, required []string) error {
	out, err := f.run(ctx, listFlag)
	if err != nil {
		return fmt.Errorf("failed to list codecs: %w", err)
	}

	available := parseCodecList(out)
	var missing []string
	for _, name := range required {
		if !available[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing codecs: %v", missing)
	}
	return nil
}

// parseCodecList reads the name column of `ffmpeg -encoders` or
// `ffmpeg -decoders` output, e.g. " V....D h264   H.264 / AVC".
func parseCodecList(out string) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	body := false
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if !body {
			// the legend ends with a "------" separator
			body = len(fields) > 0 && strings.HasPrefix(fields[0], "---")
			continue
		}
		if len(fields) >= 2 {
			names[fields[1]] = true
		}
	}
	return names
}
