package main

import (
	"context"
	"fmt"

	"github.com/dynoinc/kanso/lease"
	"github.com/dynoinc/kanso/objstore"
	"github.com/dynoinc/kanso/objstore/gcsstore"
	"github.com/dynoinc/kanso/objstore/inmemory"
)

type demoPayload struct {
	Note string `json:"note"`
}

func run(ctx context.Context, cfg config) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	path, err := objstore.NewPath(cfg.Path)
	if err != nil {
		return fmt.Errorf("kanso-lease-demo: %w", err)
	}

	req := lease.NewAcquireRequest(path, demoPayload{Note: "initial"}, cfg.TTL)
	if cfg.Owner != "" {
		req = req.WithOwner(cfg.Owner)
	}

	l, value, err := req.Execute(ctx, client)
	if err != nil {
		return fmt.Errorf("kanso-lease-demo: acquire: %w", err)
	}
	fmt.Printf("acquired %s as %s: %+v\n", path, l.Owner, value)

	if err := l.Update(ctx, demoPayload{Note: "updated by " + l.Owner}); err != nil {
		return fmt.Errorf("kanso-lease-demo: update: %w", err)
	}
	fmt.Println("updated payload")

	if err := l.Renew(ctx); err != nil {
		return fmt.Errorf("kanso-lease-demo: renew: %w", err)
	}
	fmt.Println("renewed lease")

	if err := l.Release(ctx); err != nil {
		return fmt.Errorf("kanso-lease-demo: release: %w", err)
	}
	fmt.Println("released lease")

	return nil
}

func newClient(cfg config) (objstore.Client, error) {
	switch cfg.Backend {
	case "gcs":
		var opts []gcsstore.Option
		if cfg.Endpoint != "" {
			opts = append(opts, gcsstore.WithEndpoint(cfg.Endpoint))
		}
		return gcsstore.New(opts...), nil
	default:
		return inmemory.New(), nil
	}
}
