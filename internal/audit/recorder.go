package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"postal-service/internal/client"
	"postal-service/internal/util"
)

// Entry is one audit trail row. The trail is append-only and advisory; it
// never participates in protocol decisions.
type Entry struct {
	At                time.Time
	Action            string
	SubjectIdentifier string
	ParcelID          string
	TransactionID     string
	Outcome           string
	Detail            string
}

// Recorder accepts audit entries without blocking callers.
type Recorder interface {
	Record(entry Entry)
	Close()
}

// -------------------- CLICKHOUSE --------------------

const insertQuery = `
    INSERT INTO audit_trail (at, action, subject_identifier, parcel_id, transaction_id, outcome, detail)`

const (
	flushInterval = 5 * time.Second
	batchLimit    = 500
	queueDepth    = 4096
)

// ClickHouseRecorder buffers entries and flushes them in batches. A full
// queue drops entries rather than stalling the request path.
type ClickHouseRecorder struct {
	clickhouse *client.ClickHouseClient
	entries    chan Entry
	done       chan struct{}
}

func NewClickHouseRecorder(clickhouseClient *client.ClickHouseClient) *ClickHouseRecorder {
	r := &ClickHouseRecorder{
		clickhouse: clickhouseClient,
		entries:    make(chan Entry, queueDepth),
		done:       make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *ClickHouseRecorder) Record(entry Entry) {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	select {
	case r.entries <- entry:
	default:
		util.Warn("Audit queue full, entry dropped", zap.String("action", entry.Action))
	}
}

func (r *ClickHouseRecorder) run() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, batchLimit)
	for {
		select {
		case entry, ok := <-r.entries:
			if !ok {
				r.flush(batch)
				close(r.done)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchLimit {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *ClickHouseRecorder) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}

	rows := make([][]interface{}, 0, len(batch))
	for _, entry := range batch {
		rows = append(rows, []interface{}{
			entry.At, entry.Action, entry.SubjectIdentifier,
			entry.ParcelID, entry.TransactionID, entry.Outcome, entry.Detail,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.clickhouse.BatchInsert(ctx, insertQuery, rows); err != nil {
		util.Error("Failed to flush audit batch",
			zap.Int("entries", len(rows)),
			zap.Error(err))
		return
	}

	util.Debug("Audit batch flushed", zap.Int("entries", len(rows)))
}

// Close flushes pending entries and stops the background writer.
func (r *ClickHouseRecorder) Close() {
	close(r.entries)
	<-r.done
}

// -------------------- NOOP --------------------

// NoopRecorder is used when ClickHouse is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

func (r *NoopRecorder) Record(entry Entry) {}

func (r *NoopRecorder) Close() {}
