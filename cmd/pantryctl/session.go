package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"pantry/internal/inventory"
	"pantry/internal/offline"
)

var errNoToken = errors.New("no token: pass --token or set PANTRY_TOKEN")

// session is one invocation's view of the household: the durable queue, the
// mirror rebuilt from the server plus whatever is still queued, and the
// connectivity monitor that decides between sending and queueing.
type session struct {
	homeID  string
	store   *offline.SQLiteStore
	remote  *offline.HTTPRemote
	queue   *offline.Queue
	monitor *offline.Monitor
	log     *zap.Logger
	loaded  bool
}

// homeFromToken reads the household id out of the access token. The server
// verifies the signature; the client only needs the claim.
func homeFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	home, _ := claims["home_id"].(string)
	if home == "" {
		return "", errors.New("token carries no home_id")
	}
	return home, nil
}

func (a *app) open(ctx context.Context) (*session, error) {
	if a.token == "" {
		return nil, errNoToken
	}
	homeID, err := homeFromToken(a.token)
	if err != nil {
		return nil, err
	}

	store, err := offline.OpenSQLite(ctx, a.queuePath)
	if err != nil {
		return nil, err
	}

	s := &session{
		homeID: homeID,
		store:  store,
		remote: offline.NewHTTPRemote(a.baseURL, a.token, &http.Client{Timeout: 10 * time.Second}),
		log:    a.log,
	}
	s.queue = offline.NewQueue(offline.Options{
		Store:  store,
		Remote: s.remote,
		Online: func() bool { return s.monitor.Online() },
		OnFailure: func(m offline.Mutation, err error) {
			fmt.Fprintf(a.out, "gave up on %s %s: %v\n", m.Kind, m.EntityID, err)
		},
		Invalidate: func(ctx context.Context, _ string) { s.refresh(ctx) },
		Logger:     a.log,
	})
	s.monitor = offline.NewMonitor(s.remote.Ping, s.queue, 15*time.Second, a.log)
	s.monitor.Check(ctx)

	s.refresh(ctx)
	return s, nil
}

// refresh rebuilds the mirror from the server when reachable, with queued
// writes replayed on top so they show as pending. Offline, the first call
// builds it from the queue alone and later calls keep what is there.
func (s *session) refresh(ctx context.Context) {
	var (
		items []inventory.Item
		lists []inventory.List
		fresh bool
	)
	if s.monitor.Online() {
		var err error
		items, lists, err = s.remote.Snapshot(ctx)
		if err != nil {
			s.log.Warn("snapshot failed", zap.Error(err))
		} else {
			fresh = true
		}
	}
	if !fresh && s.loaded {
		return
	}
	if err := s.queue.Reload(ctx, items, lists); err != nil {
		s.log.Warn("rebuild mirror", zap.Error(err))
	}
	s.loaded = true
}

func (s *session) Close() error {
	return s.store.Close()
}

// wsURL maps the server base URL to its websocket endpoint.
func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
