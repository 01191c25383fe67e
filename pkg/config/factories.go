package config

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/gmicheli/driftwatch/pkg/backend"
	"github.com/gmicheli/driftwatch/pkg/catalog"
	badgercatalog "github.com/gmicheli/driftwatch/pkg/catalog/badger"
	memorycatalog "github.com/gmicheli/driftwatch/pkg/catalog/memory"
	ftpbackend "github.com/gmicheli/driftwatch/pkg/backend/ftp"
	localbackend "github.com/gmicheli/driftwatch/pkg/backend/local"
	nfsbackend "github.com/gmicheli/driftwatch/pkg/backend/nfs"
	smbbackend "github.com/gmicheli/driftwatch/pkg/backend/smb"
	webdavbackend "github.com/gmicheli/driftwatch/pkg/backend/webdav"
	"github.com/gmicheli/driftwatch/pkg/eventstore"
	badgerstore "github.com/gmicheli/driftwatch/pkg/eventstore/badger"
	memorystore "github.com/gmicheli/driftwatch/pkg/eventstore/memory"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// CreateEventStore creates a rename event store based on configuration.
//
// The Type field determines which store implementation is used; the
// type-specific configuration is decoded from the corresponding map.
//
// Supported types:
//   - "badger": pkg/eventstore/badger (persistent)
//   - "memory": pkg/eventstore/memory (ephemeral, tests and dry runs)
func CreateEventStore(ctx context.Context, cfg *EventStoreConfig) (eventstore.Store, error) {
	switch cfg.Type {
	case "badger":
		return createBadgerEventStore(ctx, cfg.Badger)
	case "memory":
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown event store type: %q (supported: badger, memory)", cfg.Type)
	}
}

func createBadgerEventStore(ctx context.Context, options map[string]any) (eventstore.Store, error) {
	type BadgerEventStoreOptions struct {
		DBPath   string `mapstructure:"db_path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var storeOpts BadgerEventStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode badger event store options: %w", err)
	}
	if storeOpts.DBPath == "" && !storeOpts.InMemory {
		return nil, fmt.Errorf("badger event store: db_path is required")
	}

	store, err := badgerstore.New(ctx, badgerstore.Config{
		DBPath:   storeOpts.DBPath,
		InMemory: storeOpts.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger event store: %w", err)
	}
	return store, nil
}

// CreateCatalog creates the media catalog based on configuration.
//
// Supported types:
//   - "badger": pkg/catalog/badger (persistent)
//   - "memory": pkg/catalog/memory (ephemeral, tests and dry runs)
func CreateCatalog(ctx context.Context, cfg *CatalogConfig) (catalog.Catalog, error) {
	switch cfg.Type {
	case "badger":
		return createBadgerCatalog(ctx, cfg.Badger)
	case "memory":
		return memorycatalog.New(), nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %q (supported: badger, memory)", cfg.Type)
	}
}

func createBadgerCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	type BadgerCatalogOptions struct {
		DBPath   string `mapstructure:"db_path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var catalogOpts BadgerCatalogOptions
	if err := mapstructure.Decode(options, &catalogOpts); err != nil {
		return nil, fmt.Errorf("failed to decode badger catalog options: %w", err)
	}
	if catalogOpts.DBPath == "" && !catalogOpts.InMemory {
		return nil, fmt.Errorf("badger catalog: db_path is required")
	}

	cat, err := badgercatalog.New(ctx, badgercatalog.Config{
		DBPath:   catalogOpts.DBPath,
		InMemory: catalogOpts.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger catalog: %w", err)
	}
	return cat, nil
}

// CreateBackend creates a backend client for one storage root based on its
// protocol and protocol-specific configuration map.
//
// The returned client is not connected; the resilience controller owns the
// connection lifecycle.
func CreateBackend(cfg *RootConfig) (backend.Client, error) {
	proto, err := protocol.Parse(cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("root %q: %w", cfg.Name, err)
	}

	switch proto {
	case protocol.Local:
		return createLocalBackend(cfg.Name, cfg.Local)
	case protocol.SMB:
		return createSMBBackend(cfg.Name, cfg.SMB)
	case protocol.FTP:
		return createFTPBackend(cfg.Name, cfg.FTP)
	case protocol.NFS:
		return createNFSBackend(cfg.Name, cfg.NFS)
	case protocol.WebDAV:
		return createWebDAVBackend(cfg.Name, cfg.WebDAV)
	default:
		return nil, fmt.Errorf("root %q: unhandled protocol %q", cfg.Name, cfg.Protocol)
	}
}

func createLocalBackend(name string, options map[string]any) (backend.Client, error) {
	type LocalOptions struct {
		Path string `mapstructure:"path"`
	}
	var opts LocalOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("root %q: failed to decode local options: %w", name, err)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("root %q: local backend: path is required", name)
	}
	return localbackend.New(opts.Path), nil
}

func createSMBBackend(name string, options map[string]any) (backend.Client, error) {
	type SMBOptions struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Share    string `mapstructure:"share"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Domain   string `mapstructure:"domain"`
	}
	var opts SMBOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("root %q: failed to decode smb options: %w", name, err)
	}
	if opts.Host == "" {
		return nil, fmt.Errorf("root %q: smb backend: host is required", name)
	}
	if opts.Share == "" {
		return nil, fmt.Errorf("root %q: smb backend: share is required", name)
	}
	return smbbackend.New(smbbackend.Config{
		Host:     opts.Host,
		Port:     opts.Port,
		Share:    opts.Share,
		Username: opts.Username,
		Password: opts.Password,
		Domain:   opts.Domain,
	}), nil
}

func createFTPBackend(name string, options map[string]any) (backend.Client, error) {
	type FTPOptions struct {
		Host        string        `mapstructure:"host"`
		Port        int           `mapstructure:"port"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		DialTimeout time.Duration `mapstructure:"dial_timeout"`
	}
	var opts FTPOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &opts,
	})
	if err != nil {
		return nil, fmt.Errorf("root %q: failed to create decoder: %w", name, err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("root %q: failed to decode ftp options: %w", name, err)
	}
	if opts.Host == "" {
		return nil, fmt.Errorf("root %q: ftp backend: host is required", name)
	}
	return ftpbackend.New(ftpbackend.Config{
		Host:        opts.Host,
		Port:        opts.Port,
		Username:    opts.Username,
		Password:    opts.Password,
		DialTimeout: opts.DialTimeout,
	}), nil
}

func createNFSBackend(name string, options map[string]any) (backend.Client, error) {
	type NFSOptions struct {
		Mount string `mapstructure:"mount"`
	}
	var opts NFSOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("root %q: failed to decode nfs options: %w", name, err)
	}
	if opts.Mount == "" {
		return nil, fmt.Errorf("root %q: nfs backend: mount is required", name)
	}
	return nfsbackend.New(opts.Mount), nil
}

func createWebDAVBackend(name string, options map[string]any) (backend.Client, error) {
	type WebDAVOptions struct {
		URL      string        `mapstructure:"url"`
		Username string        `mapstructure:"username"`
		Password string        `mapstructure:"password"`
		Timeout  time.Duration `mapstructure:"timeout"`
	}
	var opts WebDAVOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &opts,
	})
	if err != nil {
		return nil, fmt.Errorf("root %q: failed to create decoder: %w", name, err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("root %q: failed to decode webdav options: %w", name, err)
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("root %q: webdav backend: url is required", name)
	}
	return webdavbackend.New(webdavbackend.Config{
		URL:      opts.URL,
		Username: opts.Username,
		Password: opts.Password,
		Timeout:  opts.Timeout,
	}), nil
}
