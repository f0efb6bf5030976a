// Package s3mirror uploads finished journal files to S3-compatible object
// storage in the background.
package s3mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"voxelsync.ai/internal/logging"
)

const (
	uploadAttempts = 4
	uploadTimeout  = 2 * time.Minute
)

type Options struct {
	Bucket string
	// Root is the local directory object keys are relative to.
	Root   string
	Prefix string

	Workers       int
	QueueCapacity int
	// EnqueueWait bounds how long Enqueue blocks on a full queue.
	EnqueueWait time.Duration
	Backoff     time.Duration
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.EnqueueWait <= 0 {
		o.EnqueueWait = 25 * time.Millisecond
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	} else if o.Backoff == 0 {
		o.Backoff = 200 * time.Millisecond
	}
	o.Prefix = strings.Trim(filepath.ToSlash(o.Prefix), "/")
}

type Stats struct {
	Pending  int
	Enqueued uint64
	Dropped  uint64
	Uploaded uint64
	Failed   uint64
	// LastUpload and LastFailure are zero until the first of each.
	LastUpload  time.Time
	LastFailure time.Time
}

type upload struct {
	key, local string
}

type Mirror struct {
	client Uploader
	opts   Options
	log    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan upload
	wg     sync.WaitGroup

	enqueued, dropped, uploaded, failed atomic.Uint64
	lastUpload, lastFailure             atomic.Int64
}

// New starts the upload workers. Cancelling ctx abandons pending retries;
// Close drains the queue first.
func New(ctx context.Context, client Uploader, opts Options, log *logging.Logger) *Mirror {
	opts.applyDefaults()
	m := &Mirror{
		client: client,
		opts:   opts,
		log:    log,
		queue:  make(chan upload, opts.QueueCapacity),
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go m.worker()
	}
	return m
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for u := range m.queue {
		if err := m.send(u); err != nil {
			m.failed.Add(1)
			m.lastFailure.Store(time.Now().UnixNano())
			m.log.Errorf("s3 mirror: upload %s failed: %v", u.key, err)
			continue
		}
		m.uploaded.Add(1)
		m.lastUpload.Store(time.Now().UnixNano())
		m.log.Infof("s3 mirror: uploaded s3://%s/%s", m.opts.Bucket, u.key)
	}
}

// Enqueue schedules localPath for upload. Files outside Root are skipped,
// and a queue still full after EnqueueWait drops the file.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	key, err := m.objectKey(localPath)
	if err != nil {
		m.log.Warnf("s3 mirror: skip %s: %v", localPath, err)
		return
	}
	m.enqueued.Add(1)
	u := upload{key: key, local: localPath}

	select {
	case m.queue <- u:
		return
	default:
	}
	t := time.NewTimer(m.opts.EnqueueWait)
	defer t.Stop()
	select {
	case m.queue <- u:
	case <-t.C:
		n := m.dropped.Add(1)
		m.log.Warnf("s3 mirror: queue full, dropped %s (%d dropped so far)", localPath, n)
	}
}

// Close uploads whatever is queued and stops the workers.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.queue)
	m.wg.Wait()
	m.cancel()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Pending:     len(m.queue),
		Enqueued:    m.enqueued.Load(),
		Dropped:     m.dropped.Load(),
		Uploaded:    m.uploaded.Load(),
		Failed:      m.failed.Load(),
		LastUpload:  unixNano(m.lastUpload.Load()),
		LastFailure: unixNano(m.lastFailure.Load()),
	}
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// send retries with quadratic backoff.
func (m *Mirror) send(u upload) error {
	var err error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		if err = m.putFile(u); err == nil {
			return nil
		}
		if attempt == uploadAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt*attempt) * m.opts.Backoff):
		case <-m.ctx.Done():
			return errors.Join(err, m.ctx.Err())
		}
	}
	return fmt.Errorf("after %d attempts: %w", uploadAttempts, err)
}

func (m *Mirror) putFile(u upload) error {
	f, err := os.Open(u.local)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(m.ctx, uploadTimeout)
	defer cancel()
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.opts.Bucket),
		Key:           aws.String(u.key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/zstd"),
	})
	return err
}

// objectKey maps a file below Root to Prefix/<relative path>.
func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", errors.New("empty path")
	}
	root, err := filepath.Abs(m.opts.Root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	if rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%s is not below %s", abs, root)
	}
	return path.Join(m.opts.Prefix, filepath.ToSlash(rel)), nil
}
