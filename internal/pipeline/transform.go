package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

// Preset names understood by the exec transformer. Each expands to an ffmpeg
// filter chain; unknown presets are rejected as permanent failures upstream.
var presetArgs = map[string][]string{
	"vertical-916": {"-vf", "crop=ih*9/16:ih,scale=1080:1920", "-c:a", "copy"},
	"mirror":       {"-vf", "hflip", "-c:a", "copy"},
	"speed-105":    {"-vf", "setpts=PTS/1.05", "-af", "atempo=1.05"},
	"reencode":     {"-c:v", "libx264", "-crf", "23", "-c:a", "aac"},
}

// Pre-compiled patterns classifying ffmpeg stderr into failure kinds.
var (
	reUnsupportedInput = regexp.MustCompile(
		`(?i)Invalid data found when processing input|` +
			`moov atom not found|` +
			`Unknown format|could not find codec parameters`)
)

// ExecTransformer shells out to ffmpeg to apply a channel's transform preset.
type ExecTransformer struct {
	binary string
	dir    string
}

// NewExecTransformer builds a transformer writing outputs into dir.
func NewExecTransformer(dir string) *ExecTransformer {
	return &ExecTransformer{binary: "ffmpeg", dir: dir}
}

// Transform runs the preset against the artifact and returns the output path.
func (t *ExecTransformer) Transform(ctx context.Context, artifact string, preset channels.TransformConfig) (string, error) {
	filterArgs, ok := presetArgs[preset.Preset]
	if !ok {
		return "", &TransformError{Kind: TransformUnsupportedFormat, Message: fmt.Sprintf("unknown preset %q", preset.Preset)}
	}

	base := strings.TrimSuffix(filepath.Base(artifact), filepath.Ext(artifact))
	out := filepath.Join(t.dir, base+"-"+preset.Preset+".mp4")

	args := []string{"-y", "-i", artifact}
	if preset.ReplaceAudio {
		if preset.AudioTrack != "" {
			// second input replaces the original audio track
			args = append(args, "-i", preset.AudioTrack, "-map", "0:v:0", "-map", "1:a:0", "-shortest")
		} else {
			args = append(args, "-an")
		}
	}
	args = append(args, filterArgs...)
	args = append(args, out)

	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := tailLines(stderr.String(), 5)
		if reUnsupportedInput.MatchString(stderr.String()) {
			return "", &TransformError{Kind: TransformUnsupportedFormat, Message: msg}
		}
		return "", &TransformError{Kind: TransformToolFailure, Message: msg}
	}
	return out, nil
}

// tailLines keeps the last n lines of tool output for error history.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
