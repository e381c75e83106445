// Command pending-reprocess re-runs attribution resolution over unresolved
// pending leads. Run it after a gap in visitor-mapping ingestion has been
// backfilled; leads whose session key has since gained a mapping are
// finalized and forwarded.
package main

import (
	"context"
	"flag"

	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/events"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/leads"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/mapping"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/segment"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/config"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/db"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/logger"
)

func main() {
	limit := flag.Int("limit", 500, "maximum pending leads to scan")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting pending lead reprocessing", "limit", *limit)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	forwarder := segment.NewForwarder(cfg)
	if !cfg.IsSegmentEnabled() {
		log.Warn("SEGMENT_WRITE_KEY not configured; finalized leads will not be forwarded")
	}

	mappingService := mapping.NewService(mapping.NewRepository(pool), eventBus, log)
	leadsService := leads.NewService(leads.NewRepository(pool), mappingService, forwarder, nil, eventBus, log)

	res, err := leadsService.ReprocessPending(ctx, *limit)
	if err != nil {
		log.Error("pending lead reprocessing failed", "error", err)
		panic("pending lead reprocessing failed: " + err.Error())
	}

	log.Info("pending lead reprocessing completed",
		"scanned", res.Scanned,
		"finalized", res.Finalized,
		"still_held", res.StillHeld)
}
