package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/chatgrep/db"
	"github.com/onnwee/chatgrep/publish"
	"github.com/onnwee/chatgrep/vod"
)

// sinks are the optional places matches go besides stdout.
type sinks struct {
	recorders []vod.Recorder
	database  *sql.DB
	store     *db.Store
	pub       *publish.Publisher
	runID     string
}

// openSinks connects the sinks enabled by --archive and --publish. A sink
// that was asked for but is not configured is an error.
func (a *app) openSinks(ctx context.Context, runID, command string) (*sinks, error) {
	s := &sinks{runID: runID}
	if a.archive {
		if a.cfg.DBDsn == "" {
			return nil, errors.New("--archive requires DB_DSN")
		}
		database, err := db.Connect(ctx, a.cfg.DBDsn)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
		s.database = database
		s.store = db.NewStore(database)
		if err := s.store.StartRun(ctx, runID, command, a.filterExpr); err != nil {
			_ = database.Close()
			return nil, err
		}
		s.recorders = append(s.recorders, s.store)
	}
	if a.publish {
		if a.cfg.NATSURL == "" {
			s.close(ctx, vod.Summary{})
			return nil, errors.New("--publish requires NATS_URL")
		}
		pub, err := publish.Connect(a.cfg.NATSURL, a.cfg.NATSToken, a.cfg.NATSSubject,
			slog.Default().With(slog.String("component", "publish")))
		if err != nil {
			s.close(ctx, vod.Summary{})
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		s.pub = pub
		s.recorders = append(s.recorders, pub)
	}
	return s, nil
}

// close records the run summary and releases connections.
func (s *sinks) close(ctx context.Context, sum vod.Summary) {
	if s.store != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := s.store.FinishRun(fctx, s.runID, sum.Sources, sum.Matched, sum.Failed); err != nil {
			slog.Warn("finish run failed", slog.String("run_id", s.runID), slog.Any("err", err))
		}
		cancel()
	}
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
	if s.pub != nil {
		s.pub.Close()
	}
}
