package chat

import (
	"context"
	"iter"
	"sync"
	"time"
)

// recorder captures store calls and broadcasts in one ordered log.
type recorder struct {
	mu     sync.Mutex
	events []string
	frames []sentFrame
}

type sentFrame struct {
	HomeID    string
	ExcludeID string
	Frame     Frame
}

func (r *recorder) note(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Broadcast(_ context.Context, homeID string, f Frame, excludeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "broadcast:"+f.Type)
	r.frames = append(r.frames, sentFrame{HomeID: homeID, ExcludeID: excludeID, Frame: f})
	return nil
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Frames(typ string) []sentFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentFrame
	for _, f := range r.frames {
		if typ == "" || f.Frame.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

type memStore struct {
	mu       sync.Mutex
	rec      *recorder
	threads  map[string]Thread
	messages []Message
	touched  map[string]int
	failOn   string
}

func newMemStore(rec *recorder) *memStore {
	return &memStore{rec: rec, threads: map[string]Thread{}, touched: map[string]int{}}
}

func (s *memStore) addThread(id, homeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.threads[id] = Thread{ID: id, HomeID: homeID, Title: "Test", CreatedAt: now, LastActivityAt: now}
}

func (s *memStore) CreateThread(_ context.Context, t *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.CreatedAt = time.Now().UTC()
	t.LastActivityAt = t.CreatedAt
	s.threads[t.ID] = *t
	return nil
}

func (s *memStore) GetThread(_ context.Context, homeID, threadID string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.HomeID != homeID {
		return nil, ErrThreadNotFound
	}
	return &t, nil
}

func (s *memStore) ListThreads(_ context.Context, homeID string) ([]Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Thread{}
	for _, t := range s.threads {
		if t.HomeID == homeID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) TouchThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[threadID]++
	return nil
}

func (s *memStore) InsertMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "insert:"+string(m.Role) {
		return errStore
	}
	m.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, *m)
	if s.rec != nil {
		s.rec.note("insert:" + string(m.Role))
	}
	return nil
}

func (s *memStore) UpdateMessage(_ context.Context, id, content, intent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "update" {
		return errStore
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			s.messages[i].Intent = intent
			if s.rec != nil {
				s.rec.note("update")
			}
			return nil
		}
	}
	return ErrThreadNotFound
}

func (s *memStore) FindRecentMessages(_ context.Context, threadID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

type storeError string

func (e storeError) Error() string { return string(e) }

const errStore = storeError("store unavailable")

// agentFunc adapts a function to Agent.
type agentFunc func(ctx context.Context, req ReplyRequest) iter.Seq2[ReplyChunk, error]

func (f agentFunc) Reply(ctx context.Context, req ReplyRequest) iter.Seq2[ReplyChunk, error] {
	return f(ctx, req)
}

// scripted yields chunks in order, then err if non-nil.
func scripted(err error, chunks ...ReplyChunk) agentFunc {
	return func(ctx context.Context, _ ReplyRequest) iter.Seq2[ReplyChunk, error] {
		return func(yield func(ReplyChunk, error) bool) {
			for _, c := range chunks {
				if !yield(c, nil) {
					return
				}
			}
			if err != nil {
				yield(ReplyChunk{}, err)
			}
		}
	}
}

type staticClassifier struct {
	intent string
	err    error
}

func (c staticClassifier) Classify(context.Context, string) (string, error) {
	return c.intent, c.err
}
