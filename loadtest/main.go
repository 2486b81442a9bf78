package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"pantry/internal/chat"
	myMiddleware "pantry/internal/middleware"
)

var (
	baseURL   = flag.String("url", "http://localhost:8080", "server base URL")
	wsURL     = flag.String("ws", "ws://localhost:8080/ws", "websocket endpoint")
	homes     = flag.Int("homes", 50, "households to simulate")
	members   = flag.Int("members", 2, "connected devices per household")
	msgCount  = flag.Int("messages", 10, "chat messages per household")
	msgPause  = flag.Duration("pause", 200*time.Millisecond, "pause between messages")
	replyWait = flag.Duration("wait", 30*time.Second, "how long to wait for the last reply")
)

var prompts = []string{
	"add milk and eggs to my list",
	"what's on my list?",
	"do we have rice?",
	"show my lists",
	"remove eggs",
}

type loginResponse struct {
	Token  string `json:"access_token"`
	HomeID string `json:"home_id"`
}

type stats struct {
	mu        sync.Mutex
	latencies []time.Duration
	fanout    int
	failures  int
}

func (s *stats) reply(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func (s *stats) observed() {
	s.mu.Lock()
	s.fanout++
	s.mu.Unlock()
}

func (s *stats) fail() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func main() {
	flag.Parse()
	log.Printf("starting load test: %d homes x %d devices, %d messages each", *homes, *members, *msgCount)

	st := &stats{}
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(64)
	for i := 0; i < *homes; i++ {
		g.Go(func() error {
			if err := runHome(ctx, i, st); err != nil {
				log.Printf("home %d: %v", i, err)
				st.fail()
			}
			return nil
		})
	}
	g.Wait()
	report(st)
}

// runHome registers one household, connects its devices, and has the first
// device chat while the others only watch the broadcasts.
func runHome(ctx context.Context, n int, st *stats) error {
	username := fmt.Sprintf("load_%d", n)
	token, err := authenticate(username, "password123")
	if err != nil {
		return err
	}
	threadID, err := createThread(token)
	if err != nil {
		return err
	}

	conns := make([]*websocket.Conn, 0, *members)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{myMiddleware.BearerSubprotocol, token},
	}
	for range *members {
		c, _, err := dialer.DialContext(ctx, *wsURL, nil)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		conns = append(conns, c)
	}

	replies := make(chan struct{}, *msgCount)
	var readers sync.WaitGroup
	for i, c := range conns {
		readers.Add(1)
		go func() {
			defer readers.Done()
			watch(c, i == 0, st, replies)
		}()
	}

	sender := conns[0]
	for i := range *msgCount {
		f := chat.NewClientFrame(chat.FrameMessage, chat.MessageIn{
			ThreadID: threadID,
			Content:  prompts[i%len(prompts)],
		})
		data, err := f.Encode()
		if err != nil {
			return err
		}
		start := time.Now()
		if err := sender.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		select {
		case <-replies:
			st.reply(time.Since(start))
		case <-time.After(*replyWait):
			return fmt.Errorf("no reply to message %d", i)
		}
		time.Sleep(*msgPause)
	}

	for _, c := range conns {
		c.Close()
	}
	readers.Wait()
	return nil
}

// watch reads frames until the connection closes. The sender reports each
// final assistant reply; the other devices count what they observed.
func watch(c *websocket.Conn, sender bool, st *stats, replies chan<- struct{}) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		f, err := chat.ParseFrame(data)
		if err != nil || f.Type != chat.FrameUIMessage {
			continue
		}
		var m chat.UIMessagePayload
		if err := json.Unmarshal(f.Payload, &m); err != nil || m.IsStreaming || m.Role != chat.RoleAssistant {
			continue
		}
		if sender {
			replies <- struct{}{}
		} else {
			st.observed()
		}
	}
}

// authenticate registers (ignoring "already exists") and logs in.
func authenticate(username, password string) (string, error) {
	if resp, err := postJSON("/register", "", map[string]string{
		"username":  username,
		"password":  password,
		"home_name": username + "'s home",
	}); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/login", "", map[string]string{"username": username, "password": password})
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: %s", resp.Status)
	}
	var data loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	return data.Token, nil
}

func createThread(token string) (string, error) {
	resp, err := postJSON("/api/threads", token, map[string]string{"title": "load test"})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create thread: %s", resp.Status)
	}
	var t chat.Thread
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return "", err
	}
	return t.ID, nil
}

func postJSON(path, token string, body any) (*http.Response, error) {
	data, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, *baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}

func report(st *stats) {
	st.mu.Lock()
	defer st.mu.Unlock()

	log.Printf("homes failed: %d", st.failures)
	log.Printf("replies: %d, observed by other devices: %d", len(st.latencies), st.fanout)
	if len(st.latencies) == 0 {
		return
	}
	slices.Sort(st.latencies)
	pct := func(p float64) time.Duration {
		return st.latencies[int(p*float64(len(st.latencies)-1))]
	}
	log.Printf("turn latency p50=%s p90=%s p99=%s max=%s", pct(0.5), pct(0.9), pct(0.99), st.latencies[len(st.latencies)-1])
}
