package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jsaddiction/metarr/internal/entities"
)

// FFProbe shells out to ffprobe for container/track metadata, the same
// "configurable binary path, JSON output, exec.Command" idiom the pack's
// streaming-manager reference code uses for its own ffprobe calls. No Go
// library in the retrieval pack parses media containers directly, and
// ffprobe's JSON report is the de facto standard for this; wrapping it is
// preferable to hand-rolling a container parser.
type FFProbe struct {
	binary string
}

// NewFFProbe builds a prober. binary defaults to "ffprobe" on PATH when empty.
func NewFFProbe(binary string) *FFProbe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFProbe{binary: binary}
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Index         int    `json:"index"`
	CodecType     string `json:"codec_type"`
	CodecName     string `json:"codec_name"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	BitRate       string `json:"bit_rate"`
	ColorTransfer string `json:"color_transfer"`
	Disposition   struct {
		Default int `json:"default"`
		Forced  int `json:"forced"`
	} `json:"disposition"`
	Tags struct {
		Language string `json:"language"`
	} `json:"tags"`
}

// Probe runs ffprobe against path and maps its stream list onto
// entities.StreamTrack rows.
func (p *FFProbe) Probe(ctx context.Context, path string) ([]entities.StreamTrack, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-print_format", "json",
		"-show_entries", "stream=index,codec_type,codec_name,width,height,bit_rate,color_transfer,disposition,tags",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("ffprobe: parse output: %w", err)
	}

	tracks := make([]entities.StreamTrack, 0, len(parsed.Streams))
	for _, s := range parsed.Streams {
		kind := strings.ToLower(s.CodecType)
		if kind != "video" && kind != "audio" && kind != "subtitle" {
			continue
		}
		bitRate, _ := strconv.Atoi(s.BitRate)
		hdr := ""
		if strings.Contains(strings.ToLower(s.ColorTransfer), "smpte2084") || strings.Contains(strings.ToLower(s.ColorTransfer), "arib-std-b67") {
			hdr = s.ColorTransfer
		}
		tracks = append(tracks, entities.StreamTrack{
			Kind:     kind,
			Index:    s.Index,
			Codec:    s.CodecName,
			Language: s.Tags.Language,
			BitRate:  bitRate,
			Width:    s.Width,
			Height:   s.Height,
			Default:  s.Disposition.Default == 1,
			Forced:   s.Disposition.Forced == 1,
			HDR:      hdr,
		})
	}
	return tracks, nil
}
