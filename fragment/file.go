package fragment

import (
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/kinematch/geom"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// File is the YAML document describing a fragment database.
//
//	sample_rate: 30
//	segments:
//	  - name: vault
//	    tags: [traversal]
//	    markers:
//	      - {kind: contact, frame: 12}
//	      - {kind: escape, frame: 20}
//	    frames:
//	      - root: {position: [0, 0, 1.5], yaw: 0}
//	        features: [0.1, 0.2, 0.3, 0.4]
//	        trajectory: [0, 1]
type File struct {
	SampleRate float32       `yaml:"sample_rate"`
	Segments   []FileSegment `yaml:"segments"`
}

// FileSegment is one segment of a File.
type FileSegment struct {
	Name    string      `yaml:"name"`
	Tags    []string    `yaml:"tags,omitempty"`
	Markers []Marker    `yaml:"markers,omitempty"`
	Frames  []FileFrame `yaml:"frames"`
}

// FileFrame is one frame of a FileSegment.
type FileFrame struct {
	Root       FileTransform `yaml:"root"`
	Features   []float32     `yaml:"features"`
	Trajectory []float32     `yaml:"trajectory,omitempty"`
}

// FileTransform is a root transform. Rotation is a quaternion (w, x, y, z);
// when absent, Yaw (radians about +Y) is used.
type FileTransform struct {
	Position [3]float64  `yaml:"position"`
	Rotation *[4]float64 `yaml:"rotation,omitempty"`
	Yaw      float64     `yaml:"yaw,omitempty"`
}

// Transform converts the file representation.
func (t FileTransform) Transform() geom.Transform {
	pos := r3.Vec{X: t.Position[0], Y: t.Position[1], Z: t.Position[2]}
	if t.Rotation != nil {
		r := t.Rotation
		return geom.New(pos, quat.Number{Real: r[0], Imag: r[1], Jmag: r[2], Kmag: r[3]})
	}
	return geom.FromYaw(pos, t.Yaw)
}

// Decode parses a YAML database document.
func Decode(r io.Reader) (*MemoryDatabase, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("fragment: decode: %w", err)
	}
	return f.Build()
}

// Load reads a YAML database file.
func Load(path string) (*MemoryDatabase, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Decode(fh)
}

// Build converts the document into a MemoryDatabase. Feature widths are
// taken from the first frame.
func (f *File) Build() (*MemoryDatabase, error) {
	var numFeatures, numTraj int
	for _, seg := range f.Segments {
		if len(seg.Frames) > 0 {
			numFeatures = len(seg.Frames[0].Features)
			numTraj = len(seg.Frames[0].Trajectory)
			break
		}
	}

	b := NewBuilder(numFeatures, numTraj, f.SampleRate)
	for _, seg := range f.Segments {
		b.BeginSegment(seg.Name, seg.Tags...)
		for i, fr := range seg.Frames {
			if err := b.AddFrame(fr.Root.Transform(), fr.Features, fr.Trajectory); err != nil {
				return nil, fmt.Errorf("segment %q frame %d: %w", seg.Name, i, err)
			}
		}
		for _, m := range seg.Markers {
			if err := b.AddMarker(m.Kind, m.Frame); err != nil {
				return nil, err
			}
		}
	}
	return b.Build()
}
