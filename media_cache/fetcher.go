/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package media_cache

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/streamcache/metrics"
	"github.com/pelicanplatform/streamcache/origin"
)

const (
	// DefaultCheckpointBytes is how much received-but-unsaved data
	// accumulates before an incremental flush to durable storage.
	DefaultCheckpointBytes = 512 * 1024

	// MinCheckpointBytes is the hard floor for the checkpoint threshold;
	// configured values below it are clamped up.
	MinCheckpointBytes = 256 * 1024

	// fetchReadSize is the network read granularity.
	fetchReadSize = 64 * 1024

	// rateUpdateInterval is how often the EWMA transfer rate is refreshed.
	rateUpdateInterval = 250 * time.Millisecond
)

// RequestHandle identifies one in-flight external request.
type RequestHandle = uuid.UUID

// FetchCallbacks carries the caller's hooks for one request.  OnBytes fires
// synchronously for every delivered block, before any persistence, so the
// caller never waits on storage.  OnComplete fires exactly once when the
// request reaches a terminal state; its error is nil on clean completion.
// OnProgress is optional and drives status displays.
type FetchCallbacks struct {
	OnBytes    func(p []byte)
	OnComplete func(err error)
	OnProgress func(received, expected int64, completed bool)
}

type fetchState int

const (
	stateCreated fetchState = iota
	stateProbing
	stateFetching
	stateCompleted
	stateCancelled
	stateFailed
)

func (s fetchState) String() string {
	switch s {
	case stateProbing:
		return "probing"
	case stateFetching:
		return "fetching"
	case stateCompleted:
		return "completed"
	case stateCancelled:
		return "cancelled"
	case stateFailed:
		return "failed"
	}
	return "created"
}

// FetchProgress is a point-in-time snapshot of a request's transfer state.
type FetchProgress struct {
	Received  int64
	Expected  int64
	Rate      float64 // bytes per second
	State     string
	Completed bool
}

// FetchCoordinator orchestrates one in-flight request: cache-first lookup,
// partial-serve-then-continue, gap-by-gap origin fetches, incremental
// checkpointing of received bytes, and cancellation.
//
// The coordinator mutex makes the data-received path and the cancel path
// mutually exclusive, so a cancel-time flush can never race a checkpoint
// flush into writing the same byte twice.
type FetchCoordinator struct {
	handle RequestHandle
	url    string
	key    ResourceKey
	offset int64
	length int64

	svc        *CacheService
	client     *origin.Client
	cbs        FetchCallbacks
	checkpoint int64

	mu         sync.Mutex
	state      fetchState
	buf        []byte // received but not yet persisted
	saveCursor int64  // absolute offset where buf begins
	cancelFn   context.CancelFunc

	completeOnce sync.Once

	received atomic.Int64
	rate     ewma.MovingAverage // guarded by mu

	lastRateUpdate  time.Time
	bytesThisPeriod int64
}

func newFetchCoordinator(handle RequestHandle, svc *CacheService, client *origin.Client,
	resourceURL string, offset, length, checkpoint int64, cbs FetchCallbacks) *FetchCoordinator {

	rate := ewma.NewMovingAverage(10)
	return &FetchCoordinator{
		handle:         handle,
		url:            resourceURL,
		key:            ResourceKeyForURL(resourceURL),
		offset:         offset,
		length:         length,
		svc:            svc,
		client:         client,
		cbs:            cbs,
		checkpoint:     checkpoint,
		rate:           rate,
		lastRateUpdate: time.Now(),
	}
}

// Handle returns the request handle this coordinator serves.
func (fc *FetchCoordinator) Handle() RequestHandle { return fc.handle }

// Progress returns a snapshot of the transfer state.
func (fc *FetchCoordinator) Progress() FetchProgress {
	fc.mu.Lock()
	state := fc.state
	rateValue := fc.rate.Value()
	fc.mu.Unlock()

	return FetchProgress{
		Received:  fc.received.Load(),
		Expected:  fc.length,
		Rate:      rateValue,
		State:     state.String(),
		Completed: state == stateCompleted,
	}
}

// run drives the request to a terminal state.  It alternates cached reads
// and origin fetches across the requested span, so bytes already confirmed
// cached are never re-requested.
func (fc *FetchCoordinator) run(ctx context.Context) {
	metrics.ActiveFetches.Inc()
	defer metrics.ActiveFetches.Dec()

	fc.mu.Lock()
	fc.state = stateProbing
	fc.mu.Unlock()

	err := fc.serve(ctx)

	fc.mu.Lock()
	if fc.state == stateCancelled {
		// Cancel() already flushed under the lock and fired the callback.
		fc.mu.Unlock()
		fc.complete(context.Canceled)
		return
	}
	if err == nil {
		// Flush the remaining unsaved suffix exactly once.
		err = fc.flushLocked()
	} else {
		// Partial progress is still valuable; keep what arrived.
		if flushErr := fc.flushLocked(); flushErr != nil {
			log.Warnf("Failed to flush partial data for %s: %v", fc.key, flushErr)
		}
	}

	if err != nil {
		fc.state = stateFailed
		fc.mu.Unlock()
		metrics.FetchFailuresTotal.WithLabelValues(failureKind(err)).Inc()
		fc.complete(err)
		return
	}

	fc.state = stateCompleted
	fc.mu.Unlock()
	fc.reportProgress(true)
	fc.complete(nil)
}

// serve walks the requested span: cached segments are delivered from the
// chunk store, and each uncached gap triggers one origin range fetch
// starting at max(requestedStart, alreadyCachedUpTo).
func (fc *FetchCoordinator) serve(ctx context.Context) error {
	cursor := fc.offset
	end := fc.offset + fc.length

	for cursor < end {
		if err := ctx.Err(); err != nil {
			return err
		}

		if prefix := fc.svc.CoveredPrefix(fc.key, cursor); prefix > 0 {
			n := prefix
			if cursor+n > end {
				n = end - cursor
			}
			data, err := fc.svc.ReadRange(fc.key, cursor, n)
			if err != nil {
				return err
			}
			if data != nil {
				if err := fc.deliverCached(data); err != nil {
					return err
				}
				cursor += n
				continue
			}
			// Coverage the chunk table cannot back; re-fetch the span.
			log.Warnf("Re-fetching [%d, %d) of %s: cached range not backed by chunks", cursor, cursor+n, fc.key)
		}

		gapEnd := end
		if next := fc.svc.NextCachedStart(fc.key, cursor); next > cursor && next < end {
			gapEnd = next
		}

		fc.mu.Lock()
		fc.state = stateFetching
		fc.mu.Unlock()

		if err := fc.fetchGap(ctx, cursor, gapEnd); err != nil {
			return err
		}
		cursor = gapEnd
	}
	return nil
}

// fetchGap downloads [start, end) from the origin, streaming each received
// block to the caller and checkpointing the unsaved suffix whenever it
// crosses the configured threshold.  The trailing sub-threshold remainder is
// flushed before returning.
func (fc *FetchCoordinator) fetchGap(ctx context.Context, start, end int64) error {
	fc.mu.Lock()
	fc.saveCursor = start
	fc.buf = fc.buf[:0]
	fc.mu.Unlock()

	info, body, err := fc.client.Fetch(ctx, fc.url, start, end)
	if err != nil {
		return &NetworkError{URL: fc.url, Err: err}
	}
	defer body.Close()

	// A response total that contradicts the recorded content length is
	// fatal for this fetch but leaves other cached spans intact.
	if info.TotalSize >= 0 {
		if known := fc.svc.Metadata(fc.key).ContentLength; known >= 0 && known != info.TotalSize {
			return &RangeMismatchError{URL: fc.url, Expected: known, Actual: info.TotalSize}
		}
	}
	fc.svc.MergeMetadata(fc.key, ContentMetadata{
		ContentLength: info.TotalSize,
		ContentType:   info.ContentType,
		AcceptsRanges: info.AcceptsRanges,
		ETag:          info.ETag,
		LastModified:  info.LastModified,
	})

	expected := end - start
	var received int64
	buf := make([]byte, fetchReadSize)
	for received < expected {
		want := int64(len(buf))
		if remaining := expected - received; remaining < want {
			want = remaining
		}
		n, readErr := body.Read(buf[:want])
		if n > 0 {
			received += int64(n)
			if err := fc.onData(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &NetworkError{URL: fc.url, Err: readErr}
		}
	}

	// A body shorter than the declared span is a failure, not a silent
	// truncation; whatever arrived has already been accumulated and will
	// be flushed by the caller.
	if received != expected {
		return &NetworkError{URL: fc.url,
			Err: errors.Errorf("truncated response: received %d of %d bytes", received, expected)}
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.flushLocked()
}

// onData handles one received block: synchronous delivery to the caller,
// accumulation, and a checkpoint flush when the unsaved suffix crosses the
// threshold.  It shares the coordinator lock with Cancel, so a block is
// never delivered or saved concurrently with a cancel-time flush.
func (fc *FetchCoordinator) onData(p []byte) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.state == stateCancelled {
		return context.Canceled
	}

	if fc.cbs.OnBytes != nil {
		fc.cbs.OnBytes(p)
	}
	fc.buf = append(fc.buf, p...)
	fc.received.Add(int64(len(p)))
	metrics.BytesFromOriginTotal.Add(float64(len(p)))
	fc.updateRateLocked(int64(len(p)))

	if int64(len(fc.buf)) >= fc.checkpoint {
		if err := fc.flushLocked(); err != nil {
			return err
		}
	}

	fc.reportProgressLocked(false)
	return nil
}

// deliverCached hands already-persisted bytes to the caller.
func (fc *FetchCoordinator) deliverCached(data []byte) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.state == stateCancelled {
		return context.Canceled
	}
	if fc.cbs.OnBytes != nil {
		fc.cbs.OnBytes(data)
	}
	fc.received.Add(int64(len(data)))
	metrics.BytesFromCacheTotal.Add(float64(len(data)))
	fc.reportProgressLocked(false)
	return nil
}

// flushLocked writes the unsaved suffix as one chunk at the save cursor.
// The cursor advances only after the store write durably returns, so a
// failed write leaves both the cursor and the buffer for a later retry and
// no byte is ever recorded as saved twice.  The caller holds fc.mu.
func (fc *FetchCoordinator) flushLocked() error {
	if len(fc.buf) == 0 {
		return nil
	}
	if err := fc.svc.WriteChunk(fc.key, fc.saveCursor, fc.buf); err != nil {
		return err
	}
	fc.saveCursor += int64(len(fc.buf))
	fc.buf = fc.buf[:0]
	metrics.CheckpointFlushesTotal.Inc()
	return nil
}

// Cancel terminates the request: the unsaved suffix is flushed best-effort
// *before* the network connection is torn down, converting what would be a
// near-total loss of in-flight data into save-everything-received behavior.
// Idempotent and safe to call concurrently with the data path.
func (fc *FetchCoordinator) Cancel() {
	fc.mu.Lock()
	if fc.state == stateCompleted || fc.state == stateCancelled || fc.state == stateFailed {
		fc.mu.Unlock()
		return
	}
	fc.state = stateCancelled
	if err := fc.flushLocked(); err != nil {
		log.Warnf("Best-effort flush on cancel failed for %s: %v", fc.key, err)
	}
	cancelFn := fc.cancelFn
	fc.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
	fc.complete(context.Canceled)
}

func (fc *FetchCoordinator) complete(err error) {
	fc.completeOnce.Do(func() {
		if fc.cbs.OnComplete != nil {
			fc.cbs.OnComplete(err)
		}
	})
}

func (fc *FetchCoordinator) updateRateLocked(n int64) {
	fc.bytesThisPeriod += n
	if elapsed := time.Since(fc.lastRateUpdate); elapsed >= rateUpdateInterval {
		fc.rate.Add(float64(fc.bytesThisPeriod) / elapsed.Seconds())
		fc.bytesThisPeriod = 0
		fc.lastRateUpdate = time.Now()
	}
}

func (fc *FetchCoordinator) reportProgressLocked(completed bool) {
	if fc.cbs.OnProgress != nil {
		fc.cbs.OnProgress(fc.received.Load(), fc.length, completed)
	}
}

func (fc *FetchCoordinator) reportProgress(completed bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.reportProgressLocked(completed)
}

func failureKind(err error) string {
	var netErr *NetworkError
	var rangeErr *RangeMismatchError
	var storeErr *StorageWriteError
	switch {
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &rangeErr):
		return "range_mismatch"
	case errors.As(err, &storeErr):
		return "storage"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "other"
}
