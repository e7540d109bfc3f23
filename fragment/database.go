package fragment

import (
	"errors"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/kinematch/geom"
)

var (
	// ErrNoSegment is returned when frames are added before a segment was started.
	ErrNoSegment = errors.New("fragment: no segment started")
	// ErrEmptySegment is returned when a segment has no frames.
	ErrEmptySegment = errors.New("fragment: segment has no frames")
	// ErrMarkerOutOfRange is returned for markers outside their segment.
	ErrMarkerOutOfRange = errors.New("fragment: marker outside segment")
	// ErrInvalidSampleRate is returned for a non-positive sample rate.
	ErrInvalidSampleRate = errors.New("fragment: sample rate must be positive")
	// ErrFeatureWidth is returned when a frame's feature vector has the wrong length.
	ErrFeatureWidth = errors.New("fragment: feature width mismatch")
	// ErrEmptySource is returned when statistics are requested for no fragments.
	ErrEmptySource = errors.New("fragment: empty source")
)

// Database is the read-only fragment store consumed by training, search
// and transitions.
type Database interface {
	// NumFragments returns the number of fragments.
	NumFragments() int
	// FragmentFeatures returns the pose features of fragment i.
	FragmentFeatures(i int) []float32
	// NumFeatures returns the pose feature width.
	NumFeatures() int
	// NumTrajectoryFeatures returns the trajectory feature width, zero when absent.
	NumTrajectoryFeatures() int
	// TrajectoryFeatures returns the trajectory features of fragment i, nil when absent.
	TrajectoryFeatures(i int) []float32
	// SampleRate returns frames per second.
	SampleRate() float32
	// NumSegments returns the number of segments.
	NumSegments() int
	// Segment returns segment i.
	Segment(i int) Segment
	// FragmentIndex maps a sampling time to a fragment index, -1 when out of range.
	FragmentIndex(t SamplingTime) int
	// SamplingTime maps a fragment index to its sampling time.
	SamplingTime(i int) SamplingTime
	// RootTransform returns the clip-space root transform of fragment i.
	RootTransform(i int) geom.Transform
}

// MemoryDatabase is an in-memory Database.
type MemoryDatabase struct {
	sampleRate  float32
	numFeatures int
	numTraj     int
	features    []float32
	trajectory  []float32
	roots       []geom.Transform
	segments    []Segment
	owner       []int32 // fragment -> segment
	tags        map[string]*roaring.Bitmap
}

var _ Database = (*MemoryDatabase)(nil)

func (db *MemoryDatabase) NumFragments() int { return len(db.roots) }

func (db *MemoryDatabase) FragmentFeatures(i int) []float32 {
	return db.features[i*db.numFeatures : (i+1)*db.numFeatures]
}

func (db *MemoryDatabase) NumFeatures() int { return db.numFeatures }

func (db *MemoryDatabase) NumTrajectoryFeatures() int { return db.numTraj }

func (db *MemoryDatabase) TrajectoryFeatures(i int) []float32 {
	if db.numTraj == 0 {
		return nil
	}
	return db.trajectory[i*db.numTraj : (i+1)*db.numTraj]
}

func (db *MemoryDatabase) SampleRate() float32 { return db.sampleRate }

func (db *MemoryDatabase) NumSegments() int { return len(db.segments) }

func (db *MemoryDatabase) Segment(i int) Segment { return db.segments[i] }

func (db *MemoryDatabase) FragmentIndex(t SamplingTime) int {
	if t.Segment < 0 || t.Segment >= len(db.segments) {
		return -1
	}
	seg := db.segments[t.Segment]
	if t.Frame < 0 || t.Frame >= seg.NumFrames {
		return -1
	}
	return seg.FirstFragment + t.Frame
}

func (db *MemoryDatabase) SamplingTime(i int) SamplingTime {
	if i < 0 || i >= len(db.owner) {
		return InvalidSamplingTime
	}
	s := int(db.owner[i])
	return SamplingTime{Segment: s, Frame: i - db.segments[s].FirstFragment}
}

func (db *MemoryDatabase) RootTransform(i int) geom.Transform { return db.roots[i] }

// Tags returns the known tags in sorted order.
func (db *MemoryDatabase) Tags() []string {
	out := make([]string, 0, len(db.tags))
	for tag := range db.tags {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// Tagged returns the fragments of every segment carrying any of the tags.
// With no tags, all fragments are returned.
func (db *MemoryDatabase) Tagged(tags ...string) *roaring.Bitmap {
	if len(tags) == 0 {
		return AllFragments(db)
	}
	out := roaring.New()
	for _, tag := range tags {
		if bm, ok := db.tags[tag]; ok {
			out.Or(bm)
		}
	}
	return out
}

// Intervals returns one interval per segment carrying any of the tags,
// covering the whole segment. With no tags, every segment is returned.
func (db *MemoryDatabase) Intervals(tags ...string) []Interval {
	var out []Interval
	for i, seg := range db.segments {
		if len(tags) > 0 && !hasAny(seg.Tags, tags) {
			continue
		}
		out = append(out, Interval{Segment: i, NumFrames: seg.NumFrames})
	}
	return out
}

// AllFragments returns the set of every fragment index of db.
func AllFragments(db Database) *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(db.NumFragments()))
	return bm
}

func hasAny(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

// Builder assembles a MemoryDatabase segment by segment.
type Builder struct {
	db  *MemoryDatabase
	cur int
	err error
}

// NewBuilder creates a builder for pose features of width numFeatures and
// trajectory features of width numTrajectory (zero for none).
func NewBuilder(numFeatures, numTrajectory int, sampleRate float32) *Builder {
	b := &Builder{
		db: &MemoryDatabase{
			sampleRate:  sampleRate,
			numFeatures: numFeatures,
			numTraj:     numTrajectory,
			tags:        make(map[string]*roaring.Bitmap),
		},
		cur: -1,
	}
	if sampleRate <= 0 {
		b.err = ErrInvalidSampleRate
	}
	if numFeatures <= 0 {
		b.err = fmt.Errorf("%w: pose features must be positive, got %d", ErrFeatureWidth, numFeatures)
	}
	return b
}

// BeginSegment starts a new segment; subsequent frames are appended to it.
// It returns the segment index.
func (b *Builder) BeginSegment(name string, tags ...string) int {
	b.db.segments = append(b.db.segments, Segment{
		Name:          name,
		Tags:          slices.Clone(tags),
		FirstFragment: len(b.db.roots),
	})
	b.cur = len(b.db.segments) - 1
	return b.cur
}

// AddFrame appends a frame to the current segment.
func (b *Builder) AddFrame(root geom.Transform, features, trajectory []float32) error {
	if b.err != nil {
		return b.err
	}
	if b.cur < 0 {
		return ErrNoSegment
	}
	if len(features) != b.db.numFeatures {
		return fmt.Errorf("%w: pose expected %d, got %d", ErrFeatureWidth, b.db.numFeatures, len(features))
	}
	if len(trajectory) != b.db.numTraj {
		return fmt.Errorf("%w: trajectory expected %d, got %d", ErrFeatureWidth, b.db.numTraj, len(trajectory))
	}

	b.db.features = append(b.db.features, features...)
	b.db.trajectory = append(b.db.trajectory, trajectory...)
	b.db.roots = append(b.db.roots, root)
	b.db.owner = append(b.db.owner, int32(b.cur))
	b.db.segments[b.cur].NumFrames++
	return nil
}

// AddMarker annotates a frame of the current segment. Markers are checked
// against the segment length when the database is built.
func (b *Builder) AddMarker(kind MarkerKind, frame int) error {
	if b.cur < 0 {
		return ErrNoSegment
	}
	seg := &b.db.segments[b.cur]
	seg.Markers = append(seg.Markers, Marker{Kind: kind, Frame: frame})
	return nil
}

// Build validates and returns the database. The builder must not be used afterwards.
func (b *Builder) Build() (*MemoryDatabase, error) {
	if b.err != nil {
		return nil, b.err
	}
	db := b.db
	for _, seg := range db.segments {
		if seg.NumFrames == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEmptySegment, seg.Name)
		}
		for _, m := range seg.Markers {
			if m.Frame < 0 || m.Frame >= seg.NumFrames {
				return nil, fmt.Errorf("%w: %s marker at frame %d in %q (%d frames)",
					ErrMarkerOutOfRange, m.Kind, m.Frame, seg.Name, seg.NumFrames)
			}
		}
		for _, tag := range seg.Tags {
			bm, ok := db.tags[tag]
			if !ok {
				bm = roaring.New()
				db.tags[tag] = bm
			}
			bm.AddRange(uint64(seg.FirstFragment), uint64(seg.FirstFragment+seg.NumFrames))
		}
	}
	b.db = nil
	return db, nil
}
