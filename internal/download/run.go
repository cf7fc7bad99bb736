package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codefionn/greyhound/internal/reader"
	"github.com/codefionn/greyhound/internal/readqueue"
	"github.com/codefionn/greyhound/internal/schema"
)

var ErrNoReaders = errors.New("download: need at least one reader")

// Sink stores downloaded regions. Write is called from several goroutines.
type Sink interface {
	Write(r Region, res *reader.ReadResult) error
	Close() error
}

// Options describes a download.
type Options struct {
	// Session is the server session to read from.
	Session string
	// Readers each get their own queue; one read runs per reader at a time.
	Readers []readqueue.Reader
	// Regions to fetch, usually from Plan.
	Regions []Region
	// Schema of every read; empty means the standard schema.
	Schema schema.Schema
	// DepthBegin and DepthEnd are passed to every read; zero means unset.
	DepthBegin int
	DepthEnd   int
	// Sink receives every completed region; nil discards them.
	Sink Sink
	// OnRegion is called after every region, successful or not.
	OnRegion func(r Region, res *reader.ReadResult, err error)
	// Logger receives per-region messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// RegionError reports a region that could not be fetched or stored.
type RegionError struct {
	Region Region
	Err    error
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("region %d: %v", e.Region.Index, e.Err)
}

func (e *RegionError) Unwrap() error { return e.Err }

// Summary totals a download.
type Summary struct {
	Regions int
	Points  int64
	Bytes   int64
	Failed  []*RegionError
}

type outcome struct {
	region Region
	res    *reader.ReadResult
	err    error
}

// Run spreads the regions round-robin over one queue per reader and waits
// until every region has finished. When ctx ends, regions not yet started
// are flushed. The returned error joins every RegionError.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	if len(opts.Readers) == 0 {
		return nil, ErrNoReaders
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	queues := make([]*readqueue.Queue, len(opts.Readers))
	for i, r := range opts.Readers {
		q, err := readqueue.New(r, opts.Session, opts.Schema, readqueue.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		queues[i] = q
	}

	results := make(chan outcome, len(opts.Regions))
	for i, region := range opts.Regions {
		worker := i % len(queues)
		box := region.Box
		queues[worker].Enqueue(reader.ReadOptions{
			BBox:       &box,
			DepthBegin: opts.DepthBegin,
			DepthEnd:   opts.DepthEnd,
		}, func(res *reader.ReadResult, err error) {
			if err == nil && opts.Sink != nil {
				if werr := opts.Sink.Write(region, res); werr != nil {
					err = fmt.Errorf("store: %w", werr)
				}
			}
			if err != nil {
				log.Warn("region failed", "region", region.Index, "worker", worker, "error", err)
			} else {
				log.Debug("region done", "region", region.Index, "worker", worker,
					slog.Group("read", "points", res.NumPoints, "bytes", res.NumBytes))
			}
			results <- outcome{region: region, res: res, err: err}
		})
	}

	stop := context.AfterFunc(ctx, func() {
		for _, q := range queues {
			q.Flush()
		}
	})
	defer stop()

	sum := &Summary{}
	for range opts.Regions {
		o := <-results
		if opts.OnRegion != nil {
			opts.OnRegion(o.region, o.res, o.err)
		}
		if o.err != nil {
			sum.Failed = append(sum.Failed, &RegionError{Region: o.region, Err: o.err})
			continue
		}
		sum.Regions++
		sum.Points += o.res.NumPoints
		sum.Bytes += o.res.NumBytes
	}

	var errs []error
	for _, f := range sum.Failed {
		errs = append(errs, f)
	}
	return sum, errors.Join(errs...)
}
