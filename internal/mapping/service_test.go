package mapping

import (
	"context"
	"testing"

	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/events"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/apperr"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/logger"
)

// fakeStore is an in-memory Store with latest-wins upsert semantics.
type fakeStore struct {
	byVisitor map[string]Mapping
}

func newFakeStore() *fakeStore {
	return &fakeStore{byVisitor: make(map[string]Mapping)}
}

func (s *fakeStore) Upsert(ctx context.Context, m Mapping) error {
	if prev, ok := s.byVisitor[m.GubagooVisitorUUID]; ok && m.SDSessionID == nil {
		m.SDSessionID = prev.SDSessionID
	}
	s.byVisitor[m.GubagooVisitorUUID] = m
	return nil
}

func (s *fakeStore) GetByVisitorUUID(ctx context.Context, visitorUUID string) (Mapping, error) {
	m, ok := s.byVisitor[visitorUUID]
	if !ok {
		return Mapping{}, ErrMappingNotFound
	}
	return m, nil
}

func (s *fakeStore) GetBySessionID(ctx context.Context, sessionID string) (Mapping, error) {
	for _, m := range s.byVisitor {
		if m.SDSessionID != nil && *m.SDSessionID == sessionID {
			return m, nil
		}
	}
	return Mapping{}, ErrMappingNotFound
}

func strP(s string) *string { return &s }

func newTestService() (*Service, *fakeStore) {
	store := newFakeStore()
	log := logger.New("development")
	return NewService(store, events.NewInMemoryBus(log), log), store
}

func TestSubmitStoresMapping(t *testing.T) {
	svc, store := newTestService()

	err := svc.Submit(context.Background(), Mapping{
		AJSAnonymousID:     "anon-1",
		GubagooVisitorUUID: "gg-1",
		SDSessionID:        strP("sess-abc"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, ok := store.byVisitor["gg-1"]; !ok {
		t.Fatal("mapping not stored")
	}
}

func TestResubmitLatestCampaignWins(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	first := Mapping{
		AJSAnonymousID:     "anon-1",
		GubagooVisitorUUID: "gg-1",
		UTMCampaign:        strP("spring-sale"),
	}
	second := Mapping{
		AJSAnonymousID:     "anon-1",
		GubagooVisitorUUID: "gg-1",
		UTMCampaign:        strP("summer-clearance"),
	}
	if err := svc.Submit(ctx, first); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if err := svc.Submit(ctx, second); err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}

	m := store.byVisitor["gg-1"]
	if m.UTMCampaign == nil || *m.UTMCampaign != "summer-clearance" {
		t.Fatalf("UTMCampaign = %v, latest submission must win", m.UTMCampaign)
	}
}

func TestGetByVisitorUUIDNotFound(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.GetByVisitorUUID(context.Background(), "nope")
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Fatalf("error kind = %v, want not found", apperr.GetKind(err))
	}
}

func TestFindBySessionIDKeepsSentinel(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.FindBySessionID(context.Background(), "sess-none")
	if err != ErrMappingNotFound {
		t.Fatalf("err = %v, want raw ErrMappingNotFound", err)
	}
}
