package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"kibot/internal/storage"
	logx "kibot/pkg/logx"
)

func TestListStoreAddIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	s := NewListStore("weather_subscriptions", st, logx.Nop())

	if got := s.Add(ctx, "G1", "北京", "上海"); !reflect.DeepEqual(got, []string{"北京", "上海"}) {
		t.Fatalf("first Add = %v", got)
	}
	if got := s.Add(ctx, "G1", "北京"); len(got) != 0 {
		t.Fatalf("second Add = %v, want nothing added", got)
	}
	if got := s.Targets("G1"); !reflect.DeepEqual(got, []string{"北京", "上海"}) {
		t.Fatalf("Targets = %v", got)
	}

	raw, err := st.Load(ctx, "weather_subscriptions")
	if err != nil {
		t.Fatalf("persisted doc: %v", err)
	}
	var doc map[string][]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(doc["G1"], []string{"北京", "上海"}) {
		t.Fatalf("persisted = %v", doc)
	}
}

func TestListStoreRemoveDropsEmptyGroup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewListStore("bilibili_subscriptions", storage.NewMemory(), logx.Nop())
	s.Add(ctx, "G1", "123")
	s.Add(ctx, "G2", "123", "456")

	if got := s.Remove(ctx, "G1", "123", "999"); !reflect.DeepEqual(got, []string{"123"}) {
		t.Fatalf("Remove = %v", got)
	}
	if got := s.Groups(); !reflect.DeepEqual(got, []string{"G2"}) {
		t.Fatalf("Groups = %v", got)
	}
	if got := s.Subscribers("123"); !reflect.DeepEqual(got, []string{"G2"}) {
		t.Fatalf("Subscribers = %v", got)
	}
}

func TestListStoreDistinctUnion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewListStore("bilibili_subscriptions", storage.NewMemory(), logx.Nop())
	s.Add(ctx, "b", "2", "1")
	s.Add(ctx, "a", "1", "3")
	if got := s.Distinct(); !reflect.DeepEqual(got, []string{"1", "3", "2"}) {
		t.Fatalf("Distinct = %v", got)
	}
}

func TestListStoreReloadPicksUpExternalEdits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	s := NewListStore("weather_subscriptions", st, logx.Nop())
	s.Add(ctx, "G1", "北京")

	if err := st.Save(ctx, "weather_subscriptions", []byte(`{"G9":["广州","广州"]}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot(); !reflect.DeepEqual(got, map[string][]string{"G9": {"广州"}}) {
		t.Fatalf("Snapshot = %v", got)
	}
}

// flakyStore fails every Save while broken is set.
type flakyStore struct {
	storage.Store
	broken atomic.Bool
}

func (f *flakyStore) Save(ctx context.Context, name string, doc []byte) error {
	if f.broken.Load() {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, name, doc)
}

func TestReloadKeepsMutationAfterFailedSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &flakyStore{Store: storage.NewMemory()}
	s := NewListStore("weather_subscriptions", st, logx.Nop())

	st.broken.Store(true)
	s.Add(ctx, "100", "北京")
	if err := s.Reload(ctx); err == nil {
		t.Fatal("Reload with pending write on a broken store should report the write error")
	}
	if got := s.Targets("100"); !reflect.DeepEqual(got, []string{"北京"}) {
		t.Fatalf("Targets after failed save + reload = %v, want [北京]", got)
	}

	st.broken.Store(false)
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload after recovery: %v", err)
	}
	raw, err := st.Load(ctx, "weather_subscriptions")
	if err != nil {
		t.Fatalf("pending write not flushed: %v", err)
	}
	var doc map[string][]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(doc, map[string][]string{"100": {"北京"}}) {
		t.Fatalf("persisted = %v", doc)
	}

	// Clean again: reload reads the document as usual.
	if err := st.Save(ctx, "weather_subscriptions", []byte(`{"200":["上海"]}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if got := s.Groups(); !reflect.DeepEqual(got, []string{"200"}) {
		t.Fatalf("Groups = %v, want [200]", got)
	}
}

func TestReloadIgnoresCorruptDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	f := NewFlagStore("bangumi_subscriptions", st, logx.Nop())
	f.Set(ctx, "G1", true)

	if err := st.Save(ctx, "bangumi_subscriptions", []byte(`{not json`)); err != nil {
		t.Fatal(err)
	}
	if err := f.Reload(ctx); err != nil {
		t.Fatalf("Reload corrupt = %v, want nil", err)
	}
	if !f.Enabled("G1") {
		t.Fatal("corrupt document on reload wiped the in-memory flag")
	}
}

func TestCorruptDocumentLoadsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	if err := st.Save(ctx, "bangumi_subscriptions", []byte(`{not json`)); err != nil {
		t.Fatal(err)
	}
	f := NewFlagStore("bangumi_subscriptions", st, logx.Nop())
	if err := f.Load(ctx); err != nil {
		t.Fatalf("Load corrupt = %v, want nil", err)
	}
	if len(f.Groups()) != 0 {
		t.Fatalf("Groups = %v, want empty", f.Groups())
	}
}

func TestFlagStoreSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := NewFlagStore("calendar_subscriptions", storage.NewMemory(), logx.Nop())
	if !f.Set(ctx, "G1", true) {
		t.Fatal("first Set should change state")
	}
	if f.Set(ctx, "G1", true) {
		t.Fatal("second Set should be a no-op")
	}
	if !f.Enabled("G1") || f.Enabled("G2") {
		t.Fatal("unexpected Enabled result")
	}
	if !f.Set(ctx, "G1", false) || f.Enabled("G1") {
		t.Fatal("unset failed")
	}
}

func TestSpecialDaysOn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	doc := `{"G1":[["2026-10-16","发布日"],["10-16","周年纪念"],["10-17","明天"],["1016","坏格式"],["13-40","坏日期"]]}`
	if err := st.Save(ctx, "calendar_special_days", []byte(doc)); err != nil {
		t.Fatal(err)
	}
	s := NewSpecialDays("calendar_special_days", st, logx.Nop())
	if err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2026, 10, 16, 0, 30, 0, 0, time.UTC)
	if got := s.On("G1", day); !reflect.DeepEqual(got, []string{"发布日", "周年纪念"}) {
		t.Fatalf("On = %v", got)
	}
	nextYear := time.Date(2027, 10, 16, 0, 30, 0, 0, time.UTC)
	if got := s.On("G1", nextYear); !reflect.DeepEqual(got, []string{"周年纪念"}) {
		t.Fatalf("On next year = %v", got)
	}
}

func TestSpecialDaysAddValidatesAndRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewSpecialDays("calendar_special_days", storage.NewMemory(), logx.Nop())
	if err := s.Add(ctx, "G1", "2-30", "x"); err == nil {
		t.Fatal("expected invalid date error")
	}
	if err := s.Add(ctx, "G1", "02-29", "闰日"); err != nil {
		t.Fatalf("Add leap day: %v", err)
	}
	if n := s.Remove(ctx, "G1", "02-29"); n != 1 {
		t.Fatalf("Remove = %d, want 1", n)
	}
	if len(s.List("G1")) != 0 {
		t.Fatal("List should be empty")
	}
}
