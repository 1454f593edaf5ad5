package cmd

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/micheldegeofroy/unidown/internal/utils"
	"github.com/micheldegeofroy/unidown/pkg/imagededup"
	"github.com/micheldegeofroy/unidown/pkg/ingest"
	"github.com/micheldegeofroy/unidown/pkg/lock"
	"github.com/micheldegeofroy/unidown/pkg/merge"
	"github.com/micheldegeofroy/unidown/pkg/platforms/airbnb"
	"github.com/micheldegeofroy/unidown/pkg/store"
	"github.com/micheldegeofroy/unidown/pkg/unify"
)

// app bundles the wired-up engines shared by the subcommands.
type app struct {
	store     *store.Store
	index     *store.Index
	locks     *lock.Manager
	resolver  store.PathResolver
	ingest    *ingest.Orchestrator
	dedup     *imagededup.Engine
	hash      *imagededup.HashStrategy
	embedding *imagededup.EmbeddingStrategy
	scrapers  map[string]ingest.Scraper
	procLock  *utils.StoreLock
}

// newApp builds the application from viper config, taking the
// process-level lock on the downloads root.
func newApp() (*app, error) {
	log := utils.Log
	downloads := viper.GetString("downloads.dir")

	procLock, err := utils.NewStoreLock(downloads)
	if err != nil {
		return nil, err
	}
	if err := procLock.Lock(); err != nil {
		return nil, err
	}

	st, err := store.New(downloads, log)
	if err != nil {
		_ = procLock.Unlock()
		return nil, err
	}

	indexPath := viper.GetString("index.path")
	if indexPath == "" {
		indexPath = filepath.Join(downloads, ".unidown.sqlite")
	}
	index, err := store.OpenIndex(indexPath)
	if err != nil {
		// The index is an accelerator; the folder tree is authoritative.
		log.Warnf("Index unavailable, falling back to folder scans: %v", err)
		index = nil
	} else {
		st = st.WithIndex(index)
	}

	resolver := store.PathResolver{
		DownloadsRoot: downloads,
		StaticRoot:    viper.GetString("static.dir"),
	}

	locks := lock.NewManager(log,
		lock.WithSweepInterval(time.Duration(viper.GetInt("lock.sweep_interval_s"))*time.Second))
	locks.StartSweeper()

	hash := imagededup.NewHashStrategy(log)
	var embedding *imagededup.EmbeddingStrategy
	if endpoint := viper.GetString("embedding.endpoint"); endpoint != "" {
		embedding = imagededup.NewEmbeddingStrategy(endpoint, log)
	}
	dedup := imagededup.NewEngine(resolver, log)

	copier := merge.NewDiskCopier(resolver)
	mergeEngine := merge.NewEngine(log, copier)

	orch := &ingest.Orchestrator{
		Store:       st,
		Index:       index,
		Locks:       locks,
		Merge:       mergeEngine,
		Unifier:     unify.NewEngine(dedup, hash, copier, log),
		Dedup:       dedup,
		Fetch:       ingest.NewDownloader(log),
		Log:         log,
		LockTimeout: time.Duration(viper.GetInt("lock.timeout_ms")) * time.Millisecond,
	}

	return &app{
		store:     st,
		index:     index,
		locks:     locks,
		resolver:  resolver,
		ingest:    orch,
		dedup:     dedup,
		hash:      hash,
		embedding: embedding,
		scrapers: map[string]ingest.Scraper{
			"airbnb": airbnb.New(),
		},
		procLock: procLock,
	}, nil
}

// close releases resources in reverse wiring order.
func (a *app) close() {
	a.locks.Close()
	if a.index != nil {
		_ = a.index.Close()
	}
	_ = a.procLock.Unlock()
}
