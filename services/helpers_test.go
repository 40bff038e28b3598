package services

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"carwatch/models"
	"carwatch/notify"
	"carwatch/scraper/divar"
	"carwatch/storage"
	"carwatch/utils"
)

func quietLogger() *utils.Logger { return utils.NewLoggerTo(io.Discard, io.Discard, false) }

func newTestStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	s, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func parseDetail(t *testing.T, body string) *divar.Detail {
	t.Helper()
	var d divar.Detail
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	return &d
}

func listing(token string, price int64, created time.Time) *models.Listing {
	return &models.Listing{
		Token:       token,
		Title:       "پژو ۲۰۶ تیپ ۲",
		BrandModel:  "Peugeot 206",
		Year:        1398,
		Price:       price,
		PriceText:   "",
		RegionID:    1,
		RegionName:  "Tehran",
		District:    "Vanak",
		SellerType:  models.SellerPersonal,
		Tags:        []string{TagPrivateSeller, "✅ Chassis sealed"},
		Description: "بدون رنگ، بیمه تا آخر سال",
		ImageURL:    "https://img.example/" + token + ".jpg",
		MapURL:      "https://maps.google.com/?q=35.7,51.4",
		CreatedAt:   created,
	}
}

func subscriber(chatID int64, plan models.Plan, now time.Time) *models.Subscriber {
	sub := models.NewSubscriber(chatID, "", 1, 48*time.Hour, now)
	sub.Plan = plan
	return sub
}

func saveSubs(t *testing.T, store storage.SubscriberStore, subs ...*models.Subscriber) {
	t.Helper()
	for _, s := range subs {
		if err := store.SaveSubscriber(context.Background(), s); err != nil {
			t.Fatalf("SaveSubscriber(%d): %v", s.ChatID, err)
		}
	}
}

type sentMessage struct {
	ChatID int64
	Msg    notify.Message
}

// recordingSender records every message and fails for the configured chats.
type recordingSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn map[int64]error
}

func (s *recordingSender) Send(_ context.Context, chatID int64, m notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[chatID]; err != nil {
		return err
	}
	s.sent = append(s.sent, sentMessage{ChatID: chatID, Msg: m})
	return nil
}

func (s *recordingSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type alertCall struct {
	Title   string
	Message string
}

type recordingAlerter struct {
	mu    sync.Mutex
	calls []alertCall
}

func (a *recordingAlerter) Alert(_ context.Context, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, alertCall{title, message})
	return nil
}
