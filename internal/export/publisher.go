package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aligncensus/aligncensus/internal/storage"
	"github.com/aligncensus/aligncensus/internal/table"
)

type Published struct {
	RunID       string    `json:"run_id"`
	ObjectKey   string    `json:"object_key"`
	SizeBytes   int64     `json:"size_bytes"`
	RecordCount int64     `json:"record_count"`
	PublishedAt time.Time `json:"published_at"`
}

type Publisher struct {
	store  storage.ObjectStore
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(store storage.ObjectStore, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{store: store, logger: logger, now: time.Now}
}

// Publish encodes t and stores it under the run's export path.
func (p *Publisher) Publish(ctx context.Context, runID string, t table.Table) (Published, error) {
	if p.store == nil {
		return Published{}, fmt.Errorf("object store is not configured")
	}
	publishedAt := p.now().UTC()
	key, err := storage.BuildExportPath(runID, publishedAt)
	if err != nil {
		return Published{}, err
	}
	encoded, err := EncodeParquet(t)
	if err != nil {
		return Published{}, fmt.Errorf("encode aligned table: %w", err)
	}

	size := int64(len(encoded.Data))
	if _, err := p.store.Put(ctx, key, bytes.NewReader(encoded.Data), size, storage.PutOptions{
		ContentType: ParquetContentType,
		Metadata: map[string]string{
			"run-id":  runID,
			"rows":    strconv.FormatInt(encoded.RecordCount, 10),
			"columns": strings.Join(encoded.Columns, ","),
		},
	}); err != nil {
		return Published{}, fmt.Errorf("publish aligned table: %w", err)
	}

	p.logger.InfoContext(ctx, "aligned table published",
		slog.String("run_id", runID),
		slog.String("object_key", key),
		slog.Int64("rows", encoded.RecordCount),
		slog.Int64("size_bytes", size),
	)
	return Published{
		RunID:       runID,
		ObjectKey:   key,
		SizeBytes:   size,
		RecordCount: encoded.RecordCount,
		PublishedAt: publishedAt,
	}, nil
}

// Open returns a reader over a published object and its size. The caller
// closes the reader.
func (p *Publisher) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if p.store == nil {
		return nil, 0, fmt.Errorf("object store is not configured")
	}
	info, err := p.store.Stat(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	reader, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return reader, info.Size, nil
}

// Discard removes a published object. Missing objects are ignored.
func (p *Publisher) Discard(ctx context.Context, key string) error {
	if p.store == nil || key == "" {
		return nil
	}
	if err := p.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("discard %q: %w", key, err)
	}
	p.logger.WarnContext(ctx, "published object discarded", slog.String("object_key", key))
	return nil
}
