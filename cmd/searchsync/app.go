package main

import (
	"fmt"

	"github.com/openmined/searchsync/internal/config"
	"github.com/openmined/searchsync/internal/document"
	"github.com/openmined/searchsync/internal/engine"
	"github.com/openmined/searchsync/internal/identity"
	"github.com/openmined/searchsync/internal/mirror"
	"github.com/openmined/searchsync/internal/projector"
	"github.com/openmined/searchsync/internal/searchindex"
)

// app wires the components a remote-facing command needs. The mirror lock is
// held until Close.
type app struct {
	cfg    *config.Config
	docs   *document.Source
	store  *mirror.Store
	client *searchindex.AlgoliaClient
	engine *engine.Engine
}

func newApp(cfg *config.Config) (*app, error) {
	// projection errors are configuration errors and surface before anything is touched
	proj, err := projector.New(cfg.Fields)
	if err != nil {
		return nil, err
	}

	remote, err := cfg.Remote()
	if err != nil {
		return nil, fmt.Errorf("search index config: %w", err)
	}
	client, err := searchindex.NewAlgoliaClient(remote)
	if err != nil {
		return nil, err
	}

	docs, err := document.NewSource(cfg.PostsDir, cfg.Ignore...)
	if err != nil {
		return nil, err
	}

	store, err := mirror.Open(cfg.MirrorPath, mirror.WithRoot(cfg.PostsDir))
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		docs:   docs,
		store:  store,
		client: client,
		engine: engine.New(store, client, docs, proj, identity.New(docs)),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
