// Package audit records authentication events with sanitized metadata.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/metrics"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
)

const DefaultQueueSize = 1000

var ErrClosed = errors.New("audit logger is closed")

type Config struct {
	// FilePath, when set, receives every event as a JSON line.
	FilePath string
	// Async queues events for a background writer. Close drains the queue.
	Async     bool
	QueueSize int
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithWriter mirrors events as JSON lines to w instead of Config.FilePath.
func WithWriter(w io.Writer) Option {
	return func(l *Logger) { l.writer = w }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

type Logger struct {
	repo    repository.AuditLogRepository
	log     *zap.Logger
	now     func() time.Time
	metrics *metrics.Metrics

	writeMu sync.Mutex
	writer  io.Writer
	file    *os.File

	queue   chan *models.AuditLog
	stateMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// NewLogger creates an audit logger backed by repo.
func NewLogger(repo repository.AuditLogRepository, cfg Config, log *zap.Logger, opts ...Option) (*Logger, error) {
	l := &Logger{
		repo: repo,
		log:  logger.OrNop(log).Named("audit"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.writer == nil && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return nil, oops.Code("AUDIT_FILE_OPEN_FAILED").With("path", cfg.FilePath).Wrap(err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, oops.Code("AUDIT_FILE_OPEN_FAILED").With("path", cfg.FilePath).Wrap(err)
		}
		l.file = f
		l.writer = f
	}

	if cfg.Async {
		size := cfg.QueueSize
		if size <= 0 {
			size = DefaultQueueSize
		}
		l.queue = make(chan *models.AuditLog, size)
		l.wg.Add(1)
		go l.run()
	}

	return l, nil
}

// LogAuthEvent sanitizes and persists ev. Client IP and user agent fall
// back to the values carried by ctx.
func (l *Logger) LogAuthEvent(ctx context.Context, ev Event) error {
	if !ev.Type.Valid() {
		return oops.Code("AUDIT_INVALID_EVENT").With("event_type", string(ev.Type)).Errorf("unknown audit event type")
	}

	rec := &models.AuditLog{
		ID:        ulid.Make().String(),
		EventType: ev.Type,
		UserID:    ev.UserID,
		Username:  ev.Username,
		Success:   ev.Success,
		Timestamp: l.now().UTC(),
		IPAddress: ev.IPAddress,
		UserAgent: ev.UserAgent,
		Metadata:  Sanitize(ev.Metadata),
	}
	if rec.IPAddress == "" {
		rec.IPAddress = ClientIPFromContext(ctx)
	}
	if rec.UserAgent == "" {
		rec.UserAgent = UserAgentFromContext(ctx)
	}

	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	if l.queue != nil {
		select {
		case l.queue <- rec:
			return nil
		default:
			l.log.Warn("audit queue full, writing synchronously", zap.String("event_type", string(rec.EventType)))
		}
	}
	return l.write(ctx, rec)
}

func (l *Logger) run() {
	defer l.wg.Done()
	for rec := range l.queue {
		_ = l.write(context.Background(), rec)
	}
}

// write persists rec and mirrors it to the JSON line writer. A failed store
// write still reaches the file.
func (l *Logger) write(ctx context.Context, rec *models.AuditLog) error {
	var storeErr error
	if err := l.repo.Create(context.WithoutCancel(ctx), rec); err != nil {
		l.metrics.RecordAuditFailure()
		storeErr = oops.Code("AUDIT_WRITE_FAILED").
			With("event_id", rec.ID).
			With("event_type", string(rec.EventType)).
			Wrap(err)
		logger.LogError(l.log, "failed to persist audit event", storeErr)
	}

	if l.writer != nil {
		line, err := json.Marshal(rec)
		if err != nil {
			return oops.Code("AUDIT_MARSHAL_FAILED").With("event_id", rec.ID).Wrap(err)
		}
		l.writeMu.Lock()
		_, err = l.writer.Write(append(line, '\n'))
		l.writeMu.Unlock()
		if err != nil {
			fileErr := oops.Code("AUDIT_FILE_WRITE_FAILED").With("event_id", rec.ID).Wrap(err)
			logger.LogError(l.log, "failed to mirror audit event", fileErr)
			if storeErr == nil {
				return fileErr
			}
		}
	}

	return storeErr
}

// Close stops accepting events, drains the async queue and closes the
// mirror file. It is safe to call more than once.
func (l *Logger) Close() error {
	l.stateMu.Lock()
	if l.closed {
		l.stateMu.Unlock()
		return nil
	}
	l.closed = true
	if l.queue != nil {
		close(l.queue)
	}
	l.stateMu.Unlock()

	l.wg.Wait()

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return oops.Code("AUDIT_FILE_CLOSE_FAILED").Wrap(err)
		}
	}
	return nil
}

func (l *Logger) FindByUser(ctx context.Context, userID string) ([]*models.AuditLog, error) {
	logs, err := l.repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").With("user_id", userID).Wrap(err)
	}
	return logs, nil
}

func (l *Logger) FindByTimeRange(ctx context.Context, start, end time.Time) ([]*models.AuditLog, error) {
	logs, err := l.repo.FindByTimeRange(ctx, start, end)
	if err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").With("start", start).With("end", end).Wrap(err)
	}
	return logs, nil
}

// Query returns events matching f, newest first, capped at f.Limit
// (100 when unset).
func (l *Logger) Query(ctx context.Context, f QueryFilters) ([]*models.AuditLog, error) {
	var (
		logs []*models.AuditLog
		err  error
	)
	if f.UserID != "" && f.Start.IsZero() && f.End.IsZero() {
		logs, err = l.FindByUser(ctx, f.UserID)
	} else {
		end := f.End
		if end.IsZero() {
			end = l.now().UTC()
		}
		logs, err = l.FindByTimeRange(ctx, f.Start, end)
	}
	if err != nil {
		return nil, err
	}

	out := logs[:0]
	for _, rec := range logs {
		if f.UserID != "" && rec.UserID != f.UserID {
			continue
		}
		if f.Username != "" && rec.Username != f.Username {
			continue
		}
		if f.Type != "" && rec.EventType != f.Type {
			continue
		}
		if f.Success != nil && rec.Success != *f.Success {
			continue
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
