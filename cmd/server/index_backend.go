package main

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tilemap.ai/internal/config"
	"tilemap.ai/internal/document"
	"tilemap.ai/internal/persistence/indexdb"
	"tilemap.ai/internal/persistence/r2s3"
)

// runtimeIndex holds the save and edit sinks; any of them may be nil.
type runtimeIndex struct {
	sqlite *indexdb.SQLiteIndex
	remote *indexdb.RemoteIndex
	mirror *r2s3.Mirror
}

func openRuntimeIndex(cfg config.Config, log logrus.FieldLogger) (*runtimeIndex, error) {
	rt := &runtimeIndex{}
	mirror, err := openMirror(cfg, log)
	if err != nil {
		return nil, err
	}
	rt.mirror = mirror
	if !cfg.Index.Enabled {
		return rt, nil
	}
	db, err := indexdb.OpenSQLite(cfg.IndexPath())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.sqlite = db

	endpoint := strings.TrimSpace(cfg.Index.RemoteEndpoint)
	if endpoint == "" {
		return rt, nil
	}
	token := cfg.Index.RemoteToken
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TILEMAP_INDEX_TOKEN"))
	}
	remote, err := indexdb.OpenRemote(indexdb.RemoteConfig{
		Endpoint:      endpoint,
		Token:         token,
		BatchSize:     envInt("TILEMAP_INDEX_BATCH_SIZE", 128),
		FlushInterval: time.Duration(envInt("TILEMAP_INDEX_FLUSH_MS", 500)) * time.Millisecond,
		Logger:        log,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.remote = remote
	return rt, nil
}

// Index returns the combined sink, or nil when indexing is off.
func (rt *runtimeIndex) Index() document.Index {
	var out []document.Index
	if rt.sqlite != nil {
		out = append(out, rt.sqlite)
	}
	if rt.remote != nil {
		out = append(out, rt.remote)
	}
	if rt.mirror != nil {
		out = append(out, rt.mirror)
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return indexdb.Tee(out...)
}

func openMirror(cfg config.Config, log logrus.FieldLogger) (*r2s3.Mirror, error) {
	mc := cfg.Mirror
	if strings.TrimSpace(mc.Endpoint) == "" {
		return nil, nil
	}
	client, err := r2s3.NewClient(r2s3.ClientConfig{
		Endpoint:        mc.Endpoint,
		Bucket:          mc.Bucket,
		Region:          mc.Region,
		AccessKeyID:     os.Getenv("TILEMAP_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("TILEMAP_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, err
	}
	return r2s3.NewMirror(client, r2s3.MirrorConfig{
		DataDir:       cfg.DataDir,
		Prefix:        mc.Prefix,
		Workers:       envInt("TILEMAP_MIRROR_WORKERS", 2),
		QueueCapacity: envInt("TILEMAP_MIRROR_QUEUE", 2048),
		Logger:        log,
	}), nil
}

func (rt *runtimeIndex) Close() {
	rt.mirror.Close()
	if rt.remote != nil {
		_ = rt.remote.Close()
	}
	if rt.sqlite != nil {
		_ = rt.sqlite.Close()
	}
}
