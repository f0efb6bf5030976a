package main

import (
	"context"

	"voxelsync.ai/internal/config"
	"voxelsync.ai/internal/logging"
	persistlog "voxelsync.ai/internal/persistence/log"
	"voxelsync.ai/internal/persistence/s3mirror"
	"voxelsync.ai/internal/sim/mapedit"
)

// journalRuntime owns the map edit journal and its optional S3 mirror.
type journalRuntime struct {
	journal *persistlog.EditJournal
	mirror  *s3mirror.Mirror
	log     *logging.Logger
}

func buildJournal(ctx context.Context, cfg config.JournalConfig, dataDir string, logger *logging.Logger) (*journalRuntime, error) {
	if !cfg.Enabled {
		return &journalRuntime{}, nil
	}
	rt := &journalRuntime{journal: persistlog.NewEditJournal(cfg.Dir), log: logger}

	s3opts, err := cfg.S3Options()
	if err != nil {
		return nil, err
	}
	if !s3opts.Enabled {
		return rt, nil
	}
	client, err := s3mirror.NewClient(ctx, s3opts)
	if err != nil {
		return nil, err
	}
	// Uploads outlive the signal context so Close can flush the last rotation.
	rt.mirror = s3mirror.New(context.Background(), client, s3mirror.Options{
		Bucket:  s3opts.Bucket,
		Root:    dataDir,
		Prefix:  s3opts.Prefix,
		Workers: s3opts.Workers,
	}, logger)
	rt.journal.Writer().OnRotate = rt.mirror.Enqueue
	logger.Infof("journal: mirroring rotated files to s3://%s/%s", s3opts.Bucket, s3opts.Prefix)
	return rt, nil
}

// Sink is the journal the server writes to, nil when disabled.
func (r *journalRuntime) Sink() mapedit.Journal {
	if r.journal == nil {
		return nil
	}
	return r.journal
}

func (r *journalRuntime) Close() {
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.log.Warnf("journal close: %v", err)
		}
	}
	if r.mirror != nil {
		r.mirror.Close()
		st := r.mirror.Stats()
		r.log.Infof("journal mirror: uploaded=%d failed=%d dropped=%d",
			st.Uploaded, st.Failed, st.Dropped)
	}
}
