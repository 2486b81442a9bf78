package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pantry/internal/chat"
	"pantry/internal/client"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		threadID string
		listID   string
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the pantry assistant, one message per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.token == "" {
				return errNoToken
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if threadID == "" {
				t, err := a.createThread(ctx)
				if err != nil {
					return err
				}
				threadID = t.ID
				fmt.Fprintf(a.out, "thread %s\n", threadID)
			}

			endpoint, err := wsURL(a.baseURL)
			if err != nil {
				return err
			}
			p := &printer{out: a.out, log: a.log, replies: make(chan struct{}, 16)}
			connected := make(chan struct{}, 1)
			mgr := client.New(client.Options{
				URL:     endpoint,
				Token:   a.token,
				OnFrame: p.frame,
				OnState: func(s client.State) {
					a.log.Debug("connection", zap.Stringer("state", s))
					if s == client.Connected {
						select {
						case connected <- struct{}{}:
						default:
						}
					}
				},
				Logger: a.log,
			})
			mgr.Start(ctx)
			defer mgr.Close()

			select {
			case <-connected:
			case <-time.After(wait):
				return fmt.Errorf("could not connect to %s", endpoint)
			case <-ctx.Done():
				return nil
			}

			sent := 0
			sc := bufio.NewScanner(a.in)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				if line == "/quit" {
					break
				}
				f := chat.NewClientFrame(chat.FrameMessage, chat.MessageIn{ThreadID: threadID, Content: line, ListID: listID})
				if !mgr.Send(f) {
					fmt.Fprintln(a.out, "! not connected, message not sent")
					continue
				}
				sent++
			}
			if err := sc.Err(); err != nil {
				return err
			}

			// Input is done; give outstanding turns time to finish.
			deadline := time.After(wait)
			for ; sent > 0; sent-- {
				select {
				case <-p.replies:
				case <-deadline:
					return fmt.Errorf("%d replies still outstanding", sent)
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread id, a new thread is created when empty")
	cmd.Flags().StringVar(&listID, "list", "", "list the assistant should act on")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for connecting and for replies")
	return cmd
}

// printer renders incoming frames as plain text.
type printer struct {
	out     io.Writer
	log     *zap.Logger
	replies chan struct{}
}

func (p *printer) frame(f chat.RawFrame) {
	switch f.Type {
	case chat.FrameUIMessage:
		var m chat.UIMessagePayload
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			p.log.Warn("bad ui_message", zap.Error(err))
			return
		}
		if m.IsStreaming || m.Role != chat.RoleAssistant {
			return
		}
		fmt.Fprintf(p.out, "assistant: %s\n", m.Content)
		if m.UI != nil {
			fmt.Fprintf(p.out, "  [%s]\n", m.UI.Type)
		}
		select {
		case p.replies <- struct{}{}:
		default:
		}
	case chat.FrameMessage:
		var m chat.Message
		if err := json.Unmarshal(f.Payload, &m); err == nil && m.Role == chat.RoleUser {
			fmt.Fprintf(p.out, "you: %s\n", m.Content)
		}
	case chat.FrameInventoryUpdate, chat.FrameListUpdate:
		fmt.Fprintf(p.out, "  (%s)\n", f.Type)
	case chat.FrameError:
		var e chat.ErrorPayload
		json.Unmarshal(f.Payload, &e)
		fmt.Fprintf(p.out, "! %s\n", e.Error)
		select {
		case p.replies <- struct{}{}:
		default:
		}
	}
}

func (a *app) createThread(ctx context.Context) (*chat.Thread, error) {
	body, _ := json.Marshal(map[string]string{"title": "pantryctl"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(a.baseURL, "/")+"/api/threads", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create thread: %s", resp.Status)
	}
	var t chat.Thread
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode thread: %w", err)
	}
	return &t, nil
}
