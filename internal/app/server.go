package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/beta"
	"github.com/bountydotnew/querykit/config"
	"github.com/bountydotnew/querykit/internal/sqlitedb"
	"github.com/bountydotnew/querykit/rpc"
	"github.com/bountydotnew/querykit/social"
)

// Server is the daemon: the SQLite stores behind the procedure router.
type Server struct {
	RPC    *rpc.Server
	Beta   *beta.Service
	Social *social.Service

	cfg  *config.Config
	db   *sql.DB
	log  querykit.Logger
	http *http.Server
}

// Stores opens the database and migrates every schema.
func Stores(ctx context.Context, path string) (*sql.DB, *beta.SQLStore, *social.Store, error) {
	db, err := sqlitedb.Open(ctx, path)
	if err != nil {
		return nil, nil, nil, err
	}
	bs, err := beta.NewSQLStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	ss, err := social.NewStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return db, bs, ss, nil
}

// NewServer opens the database and registers every procedure. The HTTP
// listener is not started until Run.
func NewServer(ctx context.Context, cfg *config.Config, log querykit.Logger) (*Server, error) {
	db, bs, ss, err := Stores(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	for tok, s := range cfg.Resolver() {
		// sessions from config are users too
		if err := sqlitedb.UpsertUser(ctx, db, s.UserID, s.Name, s.Email, string(s.Role)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("app: seed user for token %.4s…: %w", tok, err)
		}
	}

	reg := prometheus.NewRegistry()
	srv := rpc.NewServer(rpc.ServerOptions{
		Resolver:  cfg.Resolver(),
		Logger:    log,
		Registry:  reg,
		Namespace: cfg.Metrics.Namespace,
	})
	s := &Server{
		RPC:    srv,
		Beta:   beta.NewService(bs, log),
		Social: social.NewService(ss, log),
		cfg:    cfg,
		db:     db,
		log:    log,
	}
	s.Beta.Register(srv)
	s.Social.Register(srv)
	s.http = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", querykit.Fields{"addr": s.http.Addr, "procedures": len(s.RPC.Procedures())})
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		s.log.Info("shutting down", nil)
		return s.http.Shutdown(sctx)
	})
	return g.Wait()
}

func (s *Server) Close() error { return s.db.Close() }
