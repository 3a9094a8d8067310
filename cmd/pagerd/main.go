// Command pagerd is a small demo binary wiring an in-memory transport,
// a backing store, and a Pager together, dispatching one pagein per
// demo page and then waiting for a signal to shut down. Grounded on block-device/main.go's
// flag-driven wiring, swapping block-device's single fixed device
// assembly for the pager's Config.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joshumax/expager"
	"github.com/joshumax/expager/pkg/backend"
	"github.com/joshumax/expager/pkg/transport"
)

var (
	bucketName string
	bucketPath string
	pageSize   int
	demoPages  int
)

func parseFlags() {
	flag.StringVar(&bucketName, "bucket", "", "GCS bucket backing the object (memory-backed if empty)")
	flag.StringVar(&bucketPath, "object", "", "GCS object name within -bucket")
	flag.IntVar(&pageSize, "page-size", backend.PageSize, "page size in bytes")
	flag.IntVar(&demoPages, "demo-pages", 4, "number of pages to exercise in the startup demo round trip")

	flag.Parse()
}

// logOutbox is a reference Outbox: it just logs every outbound call
// instead of actually crossing a kernel RPC boundary, since the spec
// leaves the wire format out of scope (see pkg/transport).
type logOutbox struct {
	log *zap.Logger
}

func (o *logOutbox) DataSupply(rng transport.Range, buf []byte, dealloc, precious bool, access transport.Access, _ transport.Endpoint) error {
	o.log.Info("data_supply", zap.Int64("start", rng.Start), zap.Int64("end", rng.End), zap.Int("bytes", len(buf)), zap.Bool("precious", precious))
	return nil
}

func (o *logOutbox) DataError(rng transport.Range, kind int) error {
	o.log.Warn("data_error", zap.Int64("start", rng.Start), zap.Int64("end", rng.End), zap.Int("kind", kind))
	return nil
}

func (o *logOutbox) DataUnavailable(rng transport.Range) error {
	o.log.Warn("data_unavailable", zap.Int64("start", rng.Start), zap.Int64("end", rng.End))
	return nil
}

func (o *logOutbox) LockRequest(rng transport.Range, ret transport.ReturnKind, shouldFlush bool, lockValue int, _ transport.Endpoint) error {
	o.log.Info("lock_request", zap.Int64("start", rng.Start), zap.Int64("end", rng.End), zap.Bool("flush", shouldFlush))
	return nil
}

func (o *logOutbox) ChangeAttributes(mayCache bool, copyStrategy int, _ transport.Endpoint) error {
	o.log.Info("change_attributes", zap.Bool("may_cache", mayCache), zap.Int("copy_strategy", copyStrategy))
	return nil
}

func newStore(ctx context.Context, log *zap.Logger) (backend.Store, func(), error) {
	if bucketName == "" {
		log.Info("using in-memory backing store")
		return backend.NewMemory(demoPages), func() {}, nil
	}

	log.Info("using GCS backing store", zap.String("bucket", bucketName), zap.String("object", bucketPath))

	store, err := backend.NewGCS(ctx, bucketName, bucketPath)
	if err != nil {
		return nil, func() {}, err
	}

	return store, func() { _ = store.Close() }, nil
}

func main() {
	parseFlags()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := newStore(ctx, log)
	if err != nil {
		log.Fatal("opening backing store", zap.Error(err))
	}
	defer closeStore()

	p := pager.Create(pager.Config{
		UPI:      "pagerd-demo",
		Store:    store,
		Outbox:   &logOutbox{log: log},
		Logger:   log,
		PageSize: pageSize,
	})

	control := transport.NewEndpoint()
	name := transport.NewEndpoint()

	if err := p.Dispatch(ctx, transport.Init{
		Control:  control,
		Name:     name,
		PageSize: pageSize,
	}); err != nil {
		log.Fatal("init failed", zap.Error(err))
	}

	log.Info("pager initialized", zap.String("phase", p.Phase().String()))

	for page := 0; page < demoPages; page++ {
		start := int64(page * pageSize)

		if err := p.Dispatch(ctx, transport.DataRequest{
			MessageBase: transport.MessageBase{Seq: uint64(page) + 1},
			Control:     control,
			Start:       start,
			Length:      int64(pageSize),
			Access:      transport.AccessRead,
		}); err != nil {
			log.Error("demo pagein failed", zap.Int("page", page), zap.Error(err))
		}
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := p.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}
