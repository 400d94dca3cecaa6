package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"caseflow/internal/backend"
	"caseflow/internal/model"
	"caseflow/internal/refdata"
	"caseflow/internal/store"

	"go.uber.org/zap"
)

// clientEnv is the client-side stack shared by watch and case commands
type clientEnv struct {
	client  *backend.Client
	store   *store.Store
	refs    *refdata.Cache
	session backend.StaticSession
	log     *zap.Logger
}

func newClientEnv(ctx context.Context, root *rootOptions) (*clientEnv, error) {
	cc := root.cfg.Client
	client := backend.NewClient(cc.APIURL,
		backend.WithToken(cc.Token),
		backend.WithActorID(cc.ActorID),
		backend.WithLogger(root.log),
	)

	refs := refdata.NewCache(client, root.log)
	if err := refs.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}

	return &clientEnv{
		client:  client,
		store:   store.New(root.log),
		refs:    refs,
		session: backend.StaticSession(model.Actor{ID: cc.ActorID, AlertsEnabled: cc.AlertsEnabled}),
		log:     root.log,
	}, nil
}

// load pulls one case into the local store
func (e *clientEnv) load(ctx context.Context, id string) error {
	c, err := e.client.GetCase(ctx, id)
	if err != nil {
		return err
	}
	e.store.Put(c)
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
