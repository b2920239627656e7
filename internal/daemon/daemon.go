// Package daemon runs the devnet marketplace: it replays the genesis scenario, serves the API
// and flushes the activity index until it is stopped.
package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/elastic_search"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/event"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/genesis"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Daemon struct {
	genesis *genesis.Genesis
	devnet  *genesis.Devnet
	manager event.Manager
	elastic elastic_search.Index
	server  *http.Server

	flushInterval time.Duration
}

// NewDaemon wires the daemon. elastic may be nil when indexing is disabled.
func NewDaemon(
	g *genesis.Genesis,
	devnet *genesis.Devnet,
	manager event.Manager,
	elastic elastic_search.Index,
	handler http.Handler,
	port string,
) *Daemon {
	return &Daemon{
		genesis:       g,
		devnet:        devnet,
		manager:       manager,
		elastic:       elastic,
		server:        &http.Server{Addr: ":" + port, Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		flushInterval: 5 * time.Second,
	}
}

// Execute blocks until ctx is canceled or the API server fails.
func (d *Daemon) Execute(ctx context.Context) error {
	if len(d.genesis.Steps) != 0 {
		results, err := d.genesis.Run(ctx, d.devnet)
		if err != nil {
			return errors.Wrap(err, "genesis scenario failed")
		}
		zap.L().With(zap.Int("steps", len(results))).Info("Daemon: Genesis scenario applied")
	}

	serverErr := make(chan error, 1)
	go func() {
		zap.L().Info("Daemon: Serving api on " + d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case err, ok := <-serverErr:
			if ok {
				_ = d.shutdown()
				return errors.Wrap(err, "api server failed")
			}
		case <-ticker.C:
			d.flush()
		}
	}
}

func (d *Daemon) shutdown() error {
	zap.L().Info("Daemon: Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := d.server.Shutdown(ctx)
	d.manager.Close()
	d.flush()

	return err
}

func (d *Daemon) flush() {
	if d.elastic == nil || len(d.elastic.GetRequests()) == 0 {
		return
	}

	persisted, err := d.elastic.Persist()
	if err != nil {
		zap.L().With(zap.Error(err)).Error("Daemon: Failed to persist index")
		return
	}
	zap.L().With(zap.Int("requests", persisted)).Debug("Daemon: Index persisted")
}
