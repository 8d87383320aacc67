// Package bulk implements the chunked bulk transfer engine of spec.md §4.7:
// per-chunk accounting, pause/resume/cancel, retry tracking, and
// compressibility-driven transmission sizing.
package bulk

import (
	"time"

	"github.com/google/uuid"

	"github.com/minorsecond/AXTerm-sub008/internal/compress"
)

// Direction is the transfer's direction relative to this station.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// Status is the transfer's lifecycle state, per spec.md §3.
type Status int

const (
	StatusPending Status = iota
	StatusAwaitingAcceptance
	StatusSending
	StatusPaused
	StatusAwaitingCompletion
	StatusCompleted
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAwaitingAcceptance:
		return "awaitingAcceptance"
	case StatusSending:
		return "sending"
	case StatusPaused:
		return "paused"
	case StatusAwaitingCompletion:
		return "awaitingCompletion"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CompressionSettings records whether compression is used for a transfer
// and the resulting transmission size. Algo holds the analyzer's content
// category for the file, not the compression algorithm; the algorithm
// itself is not recorded here.
type CompressionSettings struct {
	Algo             compress.Category // set only for logging/inspection
	Enabled          bool
	OriginalSize     int
	TransmissionSize int
}

// CompressionMetrics tracks realized throughput, distinguishing data rate
// (useful bytes delivered) from air rate (bytes actually put over the air),
// per spec.md §4.7.
type CompressionMetrics struct {
	BytesSent        int64
	BytesTransmitted int64
	Elapsed          time.Duration
}

// DataRate is bytesSent / elapsed.
func (m CompressionMetrics) DataRate() float64 {
	return rate(m.BytesSent, m.Elapsed)
}

// AirRate is bytesTransmitted / elapsed.
func (m CompressionMetrics) AirRate() float64 {
	return rate(m.BytesTransmitted, m.Elapsed)
}

// BandwidthEfficiency is data rate over air rate; 1.0 when no compression
// changed the wire size.
func (m CompressionMetrics) BandwidthEfficiency() float64 {
	air := m.AirRate()
	if air == 0 {
		return 1.0
	}

	return m.DataRate() / air
}

func rate(bytesCount int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}

	return float64(bytesCount) / secs
}

// ChunkSets holds the three disjoint chunk-index sets of spec.md §4.7.
type ChunkSets struct {
	Sent      map[int]struct{}
	Completed map[int]struct{}
	Retry     map[int]struct{}
}

func newChunkSets() ChunkSets {
	return ChunkSets{
		Sent:      make(map[int]struct{}),
		Completed: make(map[int]struct{}),
		Retry:     make(map[int]struct{}),
	}
}

// Transfer is one bulk transfer, per spec.md §3.
type Transfer struct {
	ID              uuid.UUID
	FileName        string
	FileSize        int64 // original, pre-compression size
	Destination     string
	ChunkSize       int
	Direction       Direction
	Protocol        string
	TransmissionSize int64 // compressed size when compression applies, else FileSize
	Status          Status
	FailureReason   string

	BytesSent        int64
	BytesTransmitted int64

	StartedAt              time.Time
	CompletedAt             time.Time
	DataPhaseStartedAt      time.Time
	DataPhaseCompletedAt    time.Time

	CompressionSettings    CompressionSettings
	CompressibilityAnalysis *compress.Analysis
	CompressionMetrics     CompressionMetrics
	SavedFilePath          string

	Chunks ChunkSets
}

// NewTransfer constructs a pending Transfer. chunkSize must be >= 16 per
// spec.md §3; it is clamped up to 16 if smaller.
func NewTransfer(fileName string, fileSize int64, destination string, chunkSize int, direction Direction) *Transfer {
	if chunkSize < 16 {
		chunkSize = 16
	}

	return &Transfer{
		ID:               uuid.New(),
		FileName:         fileName,
		FileSize:         fileSize,
		Destination:      destination,
		ChunkSize:        chunkSize,
		Direction:        direction,
		TransmissionSize: fileSize,
		Status:           StatusPending,
		Chunks:           newChunkSets(),
	}
}

// TotalChunks returns ceil(transmissionSize / chunkSize).
func (t *Transfer) TotalChunks() int {
	if t.ChunkSize <= 0 {
		return 0
	}

	return int((t.TransmissionSize + int64(t.ChunkSize) - 1) / int64(t.ChunkSize))
}

// chunkByteLen returns how many bytes chunk i contributes toward
// TransmissionSize, accounting for a short final chunk.
func (t *Transfer) chunkByteLen(i int) int64 {
	start := int64(i) * int64(t.ChunkSize)
	remaining := t.TransmissionSize - start

	if remaining <= 0 {
		return 0
	}

	if remaining < int64(t.ChunkSize) {
		return remaining
	}

	return int64(t.ChunkSize)
}

func (t *Transfer) recomputeBytesSent() {
	seen := make(map[int]struct{}, len(t.Chunks.Sent)+len(t.Chunks.Completed))
	var total int64

	for i := range t.Chunks.Sent {
		if _, ok := seen[i]; !ok {
			seen[i] = struct{}{}
			total += t.chunkByteLen(i)
		}
	}

	for i := range t.Chunks.Completed {
		if _, ok := seen[i]; !ok {
			seen[i] = struct{}{}
			total += t.chunkByteLen(i)
		}
	}

	t.BytesSent = total
}

// MarkChunkSent moves chunk i from retry/none into sent and recomputes
// bytesSent.
func (t *Transfer) MarkChunkSent(i int) {
	delete(t.Chunks.Retry, i)
	t.Chunks.Sent[i] = struct{}{}
	t.recomputeBytesSent()
}

// MarkChunkCompleted moves chunk i into completed, removing it from
// sent/retry, and recomputes bytesSent.
func (t *Transfer) MarkChunkCompleted(i int) {
	delete(t.Chunks.Sent, i)
	delete(t.Chunks.Retry, i)
	t.Chunks.Completed[i] = struct{}{}
	t.recomputeBytesSent()
}

// MarkChunkNeedsRetry removes chunk i from sent and, if not already
// completed, adds it to retry.
func (t *Transfer) MarkChunkNeedsRetry(i int) {
	delete(t.Chunks.Sent, i)

	if _, done := t.Chunks.Completed[i]; !done {
		t.Chunks.Retry[i] = struct{}{}
	}

	t.recomputeBytesSent()
}

// NextChunkToSend returns the smallest index in retry if any, else the
// smallest index not yet in (sent union completed) and below totalChunks,
// else -1.
func (t *Transfer) NextChunkToSend() int {
	if i, ok := smallestIndex(t.Chunks.Retry); ok {
		return i
	}

	total := t.TotalChunks()
	for i := 0; i < total; i++ {
		if _, sent := t.Chunks.Sent[i]; sent {
			continue
		}

		if _, done := t.Chunks.Completed[i]; done {
			continue
		}

		return i
	}

	return -1
}

func smallestIndex(set map[int]struct{}) (int, bool) {
	found := false

	min := 0
	for i := range set {
		if !found || i < min {
			min = i
			found = true
		}
	}

	return min, found
}

// MarkCompleted sets every chunk to completed, clears sent/retry, and sets
// bytesSent to transmissionSize. transmissionSize is the exact sum of all
// chunk lengths, short final chunk included, so bytesSent is not
// overcounted on completion.
func (t *Transfer) MarkCompleted() {
	total := t.TotalChunks()

	t.Chunks.Sent = make(map[int]struct{})
	t.Chunks.Retry = make(map[int]struct{})
	t.Chunks.Completed = make(map[int]struct{}, total)

	for i := 0; i < total; i++ {
		t.Chunks.Completed[i] = struct{}{}
	}

	t.BytesSent = t.TransmissionSize
	t.Status = StatusCompleted
	t.CompletedAt = t.DataPhaseCompletedAt
}

// Cancel flips the transfer to cancelled from any non-terminal state and
// evicts the cached saved-file path, per spec.md §5.
func (t *Transfer) Cancel() {
	if t.isTerminal() {
		return
	}

	t.Status = StatusCancelled
	t.SavedFilePath = ""
}

func (t *Transfer) isTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Fail flips the transfer to failed with a reason.
func (t *Transfer) Fail(reason string) {
	t.Status = StatusFailed
	t.FailureReason = reason
}
