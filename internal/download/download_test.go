package download

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/greyhound/internal/bbox"
	"github.com/codefionn/greyhound/internal/compress"
	"github.com/codefionn/greyhound/internal/reader"
	"github.com/codefionn/greyhound/internal/readqueue"
	"github.com/codefionn/greyhound/internal/schema"
)

type readqueueReader = readqueue.Reader

// regionReader answers every read with a payload derived from its bbox.
type regionReader struct {
	mu      sync.Mutex
	boxes   []bbox.Box
	fail    func(bbox.Box) error
	block   chan struct{}
	started chan struct{}
}

func (r *regionReader) ReadSync(ctx context.Context, _ string, opts reader.ReadOptions) (*reader.ReadResult, error) {
	r.mu.Lock()
	r.boxes = append(r.boxes, *opts.BBox)
	r.mu.Unlock()

	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.fail != nil {
		if err := r.fail(*opts.BBox); err != nil {
			return nil, err
		}
	}
	data := payloadFor(*opts.BBox)
	return &reader.ReadResult{NumPoints: int64(len(data) / 12), NumBytes: int64(len(data)), Data: data}, nil
}

func (r *regionReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boxes)
}

func payloadFor(b bbox.Box) []byte {
	return bytes.Repeat([]byte(b.String()), 256)
}

var testBox = bbox.MustNew([]float64{0, 0, 0}, []float64{64, 64, 8})

func mustPlan(t *testing.T, depth int) []Region {
	t.Helper()
	regions, err := Plan(testBox, depth)
	require.NoError(t, err)
	return regions
}

func TestPlan(t *testing.T) {
	regions := mustPlan(t, 2)
	require.Len(t, regions, 16)
	for i, r := range regions {
		assert.Equal(t, i, r.Index)
	}
	leaves, err := testBox.SplitToDepth(2)
	require.NoError(t, err)
	assert.Equal(t, leaves[5], regions[5].Box)
	assert.Len(t, mustPlan(t, 0), 4)

	_, err = Plan(testBox, bbox.MaxSplitDepth+1)
	assert.ErrorIs(t, err, bbox.ErrInvalidArgument)
}

func TestRunSpreadsRegionsOverReaders(t *testing.T) {
	readers := []*regionReader{{}, {}, {}}
	regions := mustPlan(t, 2)

	var mu sync.Mutex
	seen := map[int]bool{}
	sum, err := Run(context.Background(), Options{
		Session:  "s",
		Readers:  []readqueueReader{readers[0], readers[1], readers[2]},
		Regions:  regions,
		DepthEnd: 7,
		OnRegion: func(r Region, res *reader.ReadResult, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.NoError(t, err)
			seen[r.Index] = true
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 16, sum.Regions)
	assert.Empty(t, sum.Failed)
	assert.Len(t, seen, 16)

	var wantBytes int64
	for _, r := range regions {
		wantBytes += int64(len(payloadFor(r.Box)))
	}
	assert.Equal(t, wantBytes, sum.Bytes)

	assert.Equal(t, 6, readers[0].count())
	assert.Equal(t, 5, readers[1].count())
	assert.Equal(t, 5, readers[2].count())
}

func TestRunRequiresReaders(t *testing.T) {
	_, err := Run(context.Background(), Options{Regions: mustPlan(t, 1)})
	assert.ErrorIs(t, err, ErrNoReaders)
}

func TestRunReportsFailedRegions(t *testing.T) {
	boom := errors.New("boom")
	regions := mustPlan(t, 1)
	bad := regions[2].Box
	r := &regionReader{fail: func(b bbox.Box) error {
		if b == bad {
			return boom
		}
		return nil
	}}

	sum, err := Run(context.Background(), Options{Session: "s", Readers: []readqueueReader{r}, Regions: regions})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, sum.Regions)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, 2, sum.Failed[0].Region.Index)
	assert.Contains(t, sum.Failed[0].Error(), "region 2")
}

func TestRunFlushesOnCancel(t *testing.T) {
	regions := mustPlan(t, 1)
	for range 20 {
		r := &regionReader{block: make(chan struct{}), started: make(chan struct{}, 16)}
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		var sum *Summary
		var err error
		go func() {
			defer close(done)
			sum, err = Run(ctx, Options{Session: "s", Readers: []readqueueReader{r}, Regions: regions})
		}()

		<-r.started
		cancel()
		<-done

		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, sum.Regions)
		assert.Len(t, sum.Failed, 4)
		assert.Equal(t, 1, r.count(), "flushed regions must never be read")
	}
}

func TestRunWithEndedContextReadsNothing(t *testing.T) {
	r := &regionReader{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := Run(ctx, Options{Session: "s", Readers: []readqueueReader{r, &regionReader{}}, Regions: mustPlan(t, 1)})
	assert.ErrorIs(t, err, readqueue.ErrQueueFlushed)
	assert.Len(t, sum.Failed, 4)
	assert.Zero(t, r.count())
}

func TestDirSinkRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts DirSinkOptions
	}{
		{"none", DirSinkOptions{Compression: compress.None}},
		{"zstd", DirSinkOptions{Compression: compress.Zstd}},
		{"bg4", DirSinkOptions{Compression: compress.BG4LZ4}},
		{"auto", DirSinkOptions{Auto: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			tc.opts.Session = "s"
			tc.opts.Schema = schema.XYZ()
			tc.opts.DepthEnd = 7
			sink, err := NewDirSink(dir, tc.opts)
			require.NoError(t, err)
			assert.Equal(t, dir, sink.Dir())

			regions := mustPlan(t, 1)
			_, err = Run(context.Background(), Options{
				Session: "s",
				Readers: []readqueueReader{&regionReader{}, &regionReader{}},
				Regions: regions,
				Sink:    sink,
			})
			require.NoError(t, err)
			require.NoError(t, sink.Close())
			require.NoError(t, sink.Close())

			m, err := LoadManifest(dir)
			require.NoError(t, err)
			assert.Equal(t, "s", m.Session)
			assert.Equal(t, 3, m.Schema.Len())
			assert.Equal(t, 7, m.DepthEnd)
			require.Len(t, m.Regions, 4)

			for i, e := range m.Regions {
				assert.Equal(t, i, e.Index)
				assert.Equal(t, regions[i].Box.Mins(), e.Mins)
				assert.Len(t, e.Digest, 64)
				if tc.name != "auto" {
					assert.Equal(t, tc.opts.Compression, e.Compression)
				}
				assert.FileExists(t, filepath.Join(dir, e.File))

				data, err := ReadRegion(dir, e)
				require.NoError(t, err)
				assert.Equal(t, payloadFor(regions[i].Box), data)
			}

			assert.ErrorContains(t, sink.Write(regions[0], &reader.ReadResult{Data: []byte{1}}), "closed")
		})
	}
}

func TestReadRegionDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir, DirSinkOptions{})
	require.NoError(t, err)

	region := Region{Index: 3, Box: testBox}
	require.NoError(t, sink.Write(region, &reader.ReadResult{NumPoints: 1, Data: []byte("abcdefghijkl")}))
	require.NoError(t, sink.Close())

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	require.Len(t, m.Regions, 1)
	e := m.Regions[0]
	assert.Equal(t, "region-0003.bin", e.File)

	require.NoError(t, os.WriteFile(filepath.Join(dir, e.File), []byte("abcdefghijkX"), 0o644))
	_, err = ReadRegion(dir, e)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}
