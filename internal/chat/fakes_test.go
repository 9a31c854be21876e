package chat

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/blob"
	"github.com/lalith-99/relay/internal/models"
	"github.com/lalith-99/relay/internal/realtime"
)

// calls records the order in which collaborators were invoked.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, name)
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

// memChats is an in-memory ChatRepository keyed by member key.
type memChats struct {
	mu    sync.Mutex
	byKey map[string]*models.Chat
	byID  map[uuid.UUID]*models.Chat
}

func newMemChats() *memChats {
	return &memChats{byKey: map[string]*models.Chat{}, byID: map[uuid.UUID]*models.Chat{}}
}

func (m *memChats) GetOrCreate(_ context.Context, key string, members []uuid.UUID) (*models.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byKey[key]; ok {
		return c, false, nil
	}
	c := &models.Chat{ID: uuid.New(), MemberKey: key, Members: members}
	m.byKey[key] = c
	m.byID[c.ID] = c
	return c, true, nil
}

func (m *memChats) GetByID(_ context.Context, id uuid.UUID) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id], nil
}

func (m *memChats) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chat
	for _, c := range m.byID {
		if c.HasMember(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

type mockMessages struct {
	CreateFn     func(ctx context.Context, msg *models.ChatMessage, media *models.Media) error
	ListByChatFn func(ctx context.Context, chatID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

func (m *mockMessages) Create(ctx context.Context, msg *models.ChatMessage, media *models.Media) error {
	return m.CreateFn(ctx, msg, media)
}

func (m *mockMessages) ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	return m.ListByChatFn(ctx, chatID, limit)
}

type mockMedia struct {
	CreateFn  func(ctx context.Context, media *models.Media) error
	GetByIDFn func(ctx context.Context, id uuid.UUID) (*models.Media, error)
	DeleteFn  func(ctx context.Context, id uuid.UUID) error
}

func (m *mockMedia) Create(ctx context.Context, media *models.Media) error {
	return m.CreateFn(ctx, media)
}

func (m *mockMedia) GetByID(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	return m.GetByIDFn(ctx, id)
}

func (m *mockMedia) Delete(ctx context.Context, id uuid.UUID) error {
	return m.DeleteFn(ctx, id)
}

// knownUsers treats every ID in the set as an existing user.
type knownUsers map[uuid.UUID]bool

func (k knownUsers) Create(context.Context, string, string, string) (*models.User, error) {
	return nil, nil
}

func (k knownUsers) GetByID(context.Context, uuid.UUID) (*models.User, error) {
	return nil, nil
}

func (k knownUsers) GetByEmail(context.Context, string) (*models.User, error) {
	return nil, nil
}

func (k knownUsers) CountExisting(_ context.Context, ids []uuid.UUID) (int, error) {
	n := 0
	for _, id := range ids {
		if k[id] {
			n++
		}
	}
	return n, nil
}

type mockBlobs struct {
	PutFn    func(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	GetFn    func(ctx context.Context, key string) (*blob.Object, error)
	DeleteFn func(ctx context.Context, key string) error
}

func (m *mockBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	return m.PutFn(ctx, key, r, size, contentType)
}

func (m *mockBlobs) Get(ctx context.Context, key string) (*blob.Object, error) {
	return m.GetFn(ctx, key)
}

func (m *mockBlobs) Delete(ctx context.Context, key string) error {
	return m.DeleteFn(ctx, key)
}

type mockBus struct {
	PublishFn func(ctx context.Context, room string, ev realtime.Event) error
}

func (m *mockBus) Publish(ctx context.Context, room string, ev realtime.Event) error {
	return m.PublishFn(ctx, room, ev)
}

func upload(name, body string) *Upload {
	return &Upload{
		Filename:    name,
		ContentType: "",
		Size:        int64(len(body)),
		Body:        bytes.NewBufferString(body),
	}
}
