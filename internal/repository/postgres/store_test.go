package postgres

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/relay/internal/db"
	"github.com/lalith-99/relay/internal/models"
	"go.uber.org/zap"
)

// These tests run against a real Postgres because the uniqueness they
// check lives in the schema. Point TEST_DATABASE_URL at a scratch database
// to run them; every test creates its own users, so runs don't collide.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := db.Migrate(url, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database, err := db.New(context.Background(), url, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(database.Close)
	return database.Pool()
}

func newUser(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	u, err := NewUserStore(pool).Create(context.Background(), uuid.NewString()+"@relay.test", "tester", "x")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func TestChatStoreGetOrCreatePermutations(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewChatStore(pool)
	a, b, c := newUser(t, pool), newUser(t, pool), newUser(t, pool)

	key, members := models.CanonicalMembers([]uuid.UUID{a, b, c})
	first, created, err := store.GetOrCreate(ctx, key, members)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if !created {
		t.Fatal("first call should create")
	}

	for _, perm := range [][]uuid.UUID{{c, a, b}, {b, c, a, b}} {
		key, members := models.CanonicalMembers(perm)
		got, created, err := store.GetOrCreate(ctx, key, members)
		if err != nil {
			t.Fatalf("get or create %v: %v", perm, err)
		}
		if created || got.ID != first.ID {
			t.Fatalf("permutation %v: id %s created %v, want %s false", perm, got.ID, created, first.ID)
		}
	}

	loaded, err := store.GetByID(ctx, first.ID)
	if err != nil || loaded == nil {
		t.Fatalf("get by id: %v %v", loaded, err)
	}
	for _, u := range []uuid.UUID{a, b, c} {
		if !loaded.HasMember(u) {
			t.Fatalf("member %s missing from %v", u, loaded.Members)
		}
	}

	chats, err := store.ListByUser(ctx, b)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != first.ID {
		t.Fatalf("list by user = %+v", chats)
	}
}

func TestChatStoreGetOrCreateConcurrent(t *testing.T) {
	pool := testPool(t)
	store := NewChatStore(pool)
	a, b := newUser(t, pool), newUser(t, pool)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[uuid.UUID]int)
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			perm := []uuid.UUID{a, b}
			if i%2 == 1 {
				perm = []uuid.UUID{b, a}
			}
			key, members := models.CanonicalMembers(perm)
			chat, isNew, err := store.GetOrCreate(context.Background(), key, members)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[chat.ID]++
			if isNew {
				created++
			}
		}(i)
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Fatalf("concurrent callers saw %d chats, want 1: %v", len(ids), ids)
	}
	if created != 1 {
		t.Fatalf("created reported %d times, want 1", created)
	}

	var memberRows int
	for id := range ids {
		if err := pool.QueryRow(context.Background(),
			`SELECT count(*) FROM chat_members WHERE chat_id = $1`, id,
		).Scan(&memberRows); err != nil {
			t.Fatalf("count members: %v", err)
		}
	}
	if memberRows != 2 {
		t.Fatalf("member rows = %d, want 2", memberRows)
	}
}

func TestPaymentStoreSaveCheckoutIsIdempotent(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewPaymentStore(pool)
	user := newUser(t, pool)
	session := "cs_" + uuid.NewString()

	first := &models.StripePayment{
		UserID:            user,
		CheckoutSessionID: &session,
		PaymentType:       models.PaymentTypeSubscription,
		AmountMinor:       1999,
		Currency:          "usd",
		Status:            "unpaid",
		Metadata:          map[string]any{"user_id": user.String()},
	}
	if err := store.SaveCheckout(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	redelivered := &models.StripePayment{
		UserID:            user,
		CheckoutSessionID: &session,
		PaymentType:       models.PaymentTypeSubscription,
		AmountMinor:       1999,
		Currency:          "usd",
		Status:            models.PaymentStatusPaid,
		Metadata:          map[string]any{"user_id": user.String()},
	}
	if err := store.SaveCheckout(ctx, redelivered); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if redelivered.ID != first.ID {
		t.Fatalf("redelivery got id %d, want %d", redelivered.ID, first.ID)
	}

	rows, err := store.ListByUser(ctx, user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Status != models.PaymentStatusPaid || rows[0].Metadata["user_id"] != user.String() {
		t.Fatalf("row = %+v", rows[0])
	}

	loaded, err := store.GetByCheckoutSession(ctx, session)
	if err != nil || loaded == nil || loaded.ID != first.ID {
		t.Fatalf("get by session: %+v %v", loaded, err)
	}

	active, err := store.HasActive(ctx, user, []string{models.PaymentStatusPaid, models.PaymentStatusActive})
	if err != nil || !active {
		t.Fatalf("has active = %v %v, want true", active, err)
	}

	missing, err := store.GetBySubscription(ctx, "sub_"+uuid.NewString())
	if err != nil || missing != nil {
		t.Fatalf("unknown subscription = %+v %v, want nil nil", missing, err)
	}
}

func TestMessageStoreHistoryOrderAndLimit(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	a, b := newUser(t, pool), newUser(t, pool)

	key, members := models.CanonicalMembers([]uuid.UUID{a, b})
	chat, _, err := NewChatStore(pool).GetOrCreate(ctx, key, members)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	store := NewMessageStore(pool)
	texts := []string{"m0", "m1", "m2", "m3", "m4"}
	for i := range texts {
		msg := &models.ChatMessage{ChatID: chat.ID, SenderID: a, Text: &texts[i]}
		var media *models.Media
		if i == len(texts)-1 {
			media = &models.Media{
				Title:       "cat.png",
				BlobKey:     "png/" + uuid.NewString() + ".png",
				URL:         "https://cdn.relay.test/cat.png",
				ContentType: "image/png",
				Size:        3,
			}
		}
		if err := store.Create(ctx, msg, media); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	got, err := store.ListByChat(ctx, chat.ID, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"m2", "m3", "m4"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Text == nil || *got[i].Text != want[i] {
			t.Fatalf("message %d = %v, want %s", i, got[i].Text, want[i])
		}
	}
	if got[0].Media != nil {
		t.Fatalf("text message has media %+v", got[0].Media)
	}
	last := got[len(got)-1]
	if last.Media == nil || last.Media.URL != "https://cdn.relay.test/cat.png" || last.MediaURL() == nil {
		t.Fatalf("media not inlined: %+v", last.Media)
	}
}
