// SPDX-License-Identifier: MIT

package transcode

import (
	"fmt"
	"strings"
)

// Spec describes one transcode transformation. It doubles as the identity of
// an artifact cache entry, so every field that changes the output is part of it.
type Spec struct {
	Codec      string // ffmpeg encoder name
	Format     string // container format passed to -f
	Mime       string // response content type
	Bitrate    string // e.g. "96k"
	SampleRate int    // resample target in Hz, 0 disables resampling
	Normalize  bool   // loudness normalization
}

// BuildSpec selects the target encoding for a source file: mp3 sources stay
// mp3, everything else becomes opus in an ogg container.
func BuildSpec(srcExt string, normalize bool, bitrate string, sampleRate int) Spec {
	spec := Spec{
		Bitrate:    bitrate,
		SampleRate: sampleRate,
		Normalize:  normalize,
	}
	if strings.EqualFold(srcExt, ".mp3") {
		spec.Codec, spec.Format, spec.Mime = "libmp3lame", "mp3", "audio/mpeg"
	} else {
		spec.Codec, spec.Format, spec.Mime = "libopus", "ogg", "audio/ogg"
	}
	return spec
}

// args builds the ffmpeg invocation streaming the transformed audio to stdout.
func (sp Spec) args(src string) []string {
	var filters []string
	if sp.SampleRate > 0 {
		filters = append(filters, fmt.Sprintf("aresample=%d", sp.SampleRate))
	}
	if sp.Normalize {
		filters = append(filters, "loudnorm=I=-16:LRA=11:TP=-1.5")
	}
	af := strings.Join(filters, ",")
	if af == "" {
		af = "anull"
	}

	return []string{
		"-v", "error",
		"-nostdin",
		"-i", src,
		"-vn",
		"-ac", "2",
		"-af", af,
		"-c:a", sp.Codec,
		"-b:a", sp.Bitrate,
		"-f", sp.Format,
		"pipe:1",
	}
}
