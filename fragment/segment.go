package fragment

import (
	"fmt"
	"strings"
)

// SamplingTime addresses a fragment by segment and segment-relative frame.
type SamplingTime struct {
	Segment int `yaml:"segment" json:"segment"`
	Frame   int `yaml:"frame" json:"frame"`
}

// InvalidSamplingTime marks an unset sampling time.
var InvalidSamplingTime = SamplingTime{Segment: -1, Frame: -1}

// IsValid reports whether t addresses a fragment.
func (t SamplingTime) IsValid() bool {
	return t.Segment >= 0 && t.Frame >= 0
}

func (t SamplingTime) String() string {
	if !t.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d:%d", t.Segment, t.Frame)
}

// MarkerKind identifies an authored frame annotation.
type MarkerKind uint8

const (
	// MarkerContact marks the frame at which the root meets the contact transform.
	MarkerContact MarkerKind = iota
	// MarkerAnchor is an alternative alignment point, used when no contact exists.
	MarkerAnchor
	// MarkerEscape marks the frame at which a transition is done.
	MarkerEscape
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerContact:
		return "contact"
	case MarkerAnchor:
		return "anchor"
	case MarkerEscape:
		return "escape"
	default:
		return fmt.Sprintf("MarkerKind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k MarkerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *MarkerKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "contact":
		*k = MarkerContact
	case "anchor":
		*k = MarkerAnchor
	case "escape":
		*k = MarkerEscape
	default:
		return fmt.Errorf("fragment: unknown marker kind %q", text)
	}
	return nil
}

// Marker annotates a segment-relative frame.
type Marker struct {
	Kind  MarkerKind `yaml:"kind" json:"kind"`
	Frame int        `yaml:"frame" json:"frame"`
}

// Segment is a contiguous run of frames from one clip.
type Segment struct {
	Name          string
	Tags          []string
	FirstFragment int
	NumFrames     int
	Markers       []Marker
}

// LastFrame returns the segment-relative index of the final frame.
func (s Segment) LastFrame() int { return s.NumFrames - 1 }

// Marker returns the frame of the first marker of the given kind.
func (s Segment) Marker(kind MarkerKind) (int, bool) {
	for _, m := range s.Markers {
		if m.Kind == kind {
			return m.Frame, true
		}
	}
	return 0, false
}

// ContactFrame returns the contact marker frame, falling back to the
// anchor marker.
func (s Segment) ContactFrame() (int, bool) {
	if f, ok := s.Marker(MarkerContact); ok {
		return f, true
	}
	return s.Marker(MarkerAnchor)
}

// EscapeFrame returns the escape marker frame or, absent one, the last frame.
func (s Segment) EscapeFrame() int {
	if f, ok := s.Marker(MarkerEscape); ok {
		return f
	}
	return s.LastFrame()
}

// Interval is a contiguous range of frames within one segment.
type Interval struct {
	Segment    int `yaml:"segment" json:"segment"`
	FirstFrame int `yaml:"first_frame" json:"firstFrame"`
	NumFrames  int `yaml:"num_frames" json:"numFrames"`
}

// LastFrame returns the segment-relative index of the interval's final frame.
func (iv Interval) LastFrame() int { return iv.FirstFrame + iv.NumFrames - 1 }

// Contains reports whether the segment-relative frame lies in the interval.
func (iv Interval) Contains(frame int) bool {
	return frame >= iv.FirstFrame && frame <= iv.LastFrame()
}
