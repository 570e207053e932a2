package video

import (
	"fmt"
	"time"
)

// NewOperation copies args into a new Operation.
func NewOperation(args ...string) Operation {
	return Operation{Args: append([]string(nil), args...)}
}

// ConvertToMP4 re-encodes to H.264 video and AAC audio.
func ConvertToMP4() Operation {
	return NewOperation("-c:v", "libx264", "-c:a", "aac", "-strict", "experimental")
}

// Resize scales the video to width x height.
func Resize(width, height int) Operation {
	return NewOperation("-vf", fmt.Sprintf("scale=%d:%d", width, height))
}

// Trim keeps duration worth of video starting at start.
func Trim(start, duration time.Duration) Operation {
	return NewOperation("-ss", start.String(), "-t", duration.String())
}

// ExtractAudio drops the video stream and copies audio.
func ExtractAudio() Operation {
	return NewOperation("-vn", "-acodec", "copy")
}

// ExtractVideo drops the audio stream and copies video.
func ExtractVideo() Operation {
	return NewOperation("-an", "-vcodec", "copy")
}

// Watermark overlays the image at path. Position is an overlay expression
// such as "10:10" or "main_w-overlay_w-10:10".
func Watermark(path, position string) Operation {
	return NewOperation("-i", path, "-filter_complex", "overlay="+position)
}
