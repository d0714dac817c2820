package titlesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/titlesync/internal/relay"
	"github.com/dgnsrekt/titlesync/internal/tabs"
)

func titles(t *testing.T, m *tabs.Memory, window tabs.WindowID) []string {
	t.Helper()
	list, err := m.Query(context.Background(), tabs.InWindow(window))
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	out := make([]string, len(list))
	for i, tab := range list {
		out[i] = tab.Title
	}
	return out
}

func assertTitles(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("titles = %q; want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("titles = %q; want %q", got, want)
		}
	}
}

func TestSyncWindowPrefixesActiveTab(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "data:text/html,<title>[Work]</title>")
	inbox := m.Open(1, "Inbox - Mail", "https://mail.example.com")
	m.Open(1, "Docs", "https://docs.example.com")
	if err := m.Activate(inbox.ID); err != nil {
		t.Fatal(err)
	}

	s := New(m, Options{})
	got, err := s.SyncWindow(context.Background(), 1)
	if err != nil {
		t.Fatalf("SyncWindow() error: %v", err)
	}
	if len(got) != 1 || got[0].To != "Work Inbox - Mail" {
		t.Fatalf("mutations = %+v; want one to %q", got, "Work Inbox - Mail")
	}
	assertTitles(t, titles(t, m, 1), "[Work]", "Work Inbox - Mail", "Docs")
	if p := s.AppliedPrefix(inbox.ID); p != "Work" {
		t.Fatalf("AppliedPrefix() = %q; want %q", p, "Work")
	}
}

func TestSyncWindowIsIdempotent(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	inbox := m.Open(1, "Inbox - Mail", "https://mail.example.com")
	_ = m.Activate(inbox.ID)

	s := New(m, Options{})
	ctx := context.Background()
	if _, err := s.SyncWindow(ctx, 1); err != nil {
		t.Fatal(err)
	}
	m.ResetMutations()
	for i := 0; i < 3; i++ {
		if _, err := s.SyncWindow(ctx, 1); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.Mutations(); len(got) != 0 {
		t.Fatalf("second pass mutated %+v; want nothing", got)
	}
}

func TestSyncWindowStripsWhenTabDeactivated(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	inbox := m.Open(1, "Inbox - Mail", "https://mail.example.com")
	docs := m.Open(1, "Docs", "https://docs.example.com")
	_ = m.Activate(inbox.ID)

	s := New(m, Options{})
	ctx := context.Background()
	_, _ = s.SyncWindow(ctx, 1)
	_ = m.Activate(docs.ID)
	_, _ = s.SyncWindow(ctx, 1)

	assertTitles(t, titles(t, m, 1), "[Work]", "Inbox - Mail", "Work Docs")
	if p := s.AppliedPrefix(inbox.ID); p != "" {
		t.Fatalf("AppliedPrefix(inbox) = %q; want empty", p)
	}
}

func TestSyncWindowRevertsAfterMarkerRemoved(t *testing.T) {
	m := tabs.NewMemory()
	marker := m.Open(1, "[Work]", "")
	page := m.Open(1, "Old Page", "https://old.example.com")
	_ = m.Activate(page.ID)

	s := New(m, Options{})
	ctx := context.Background()
	_, _ = s.SyncWindow(ctx, 1)
	assertTitles(t, titles(t, m, 1), "[Work]", "Work Old Page")

	if err := m.Remove(ctx, marker.ID); err != nil {
		t.Fatal(err)
	}
	_, _ = s.SyncWindow(ctx, 1)
	assertTitles(t, titles(t, m, 1), "Old Page")
}

func TestSyncWindowKeepsTitlesStartingWithLabel(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	inbox := m.Open(1, "Inbox - Mail", "https://mail.example.com")
	m.Open(1, "Work Orders - ERP", "https://erp.example.com")
	_ = m.Activate(inbox.ID)

	s := New(m, Options{})
	got, err := s.SyncWindow(context.Background(), 1)
	if err != nil {
		t.Fatalf("SyncWindow() error: %v", err)
	}
	if len(got) != 1 || got[0].TabID != inbox.ID {
		t.Fatalf("mutations = %+v; want only the active tab", got)
	}
	assertTitles(t, titles(t, m, 1), "[Work]", "Work Inbox - Mail", "Work Orders - ERP")
}

func TestSyncWindowStripsStaleBracketPrefix(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Home] Recipes", "https://food.example.com")

	s := New(m, Options{})
	if _, err := s.SyncWindow(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	assertTitles(t, titles(t, m, 1), "Recipes")
}

func TestSyncWindowSkipsRestrictedTabs(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	settings := m.Open(1, "Settings", "chrome://settings")
	_ = m.Activate(settings.ID)

	s := New(m, Options{})
	if _, err := s.SyncWindow(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if got := m.Mutations(); len(got) != 0 {
		t.Fatalf("mutations = %+v; want none", got)
	}
}

func TestSyncWindowQueryFailureMutatesNothing(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	m.Open(1, "[Old] Page", "https://example.com")
	m.FailQueries(errors.New("host unavailable"))

	s := New(m, Options{})
	if _, err := s.SyncWindow(context.Background(), 1); err == nil {
		t.Fatal("SyncWindow() error = nil; want query failure")
	}
	if got := s.SyncAll(context.Background()); got != nil {
		t.Fatalf("SyncAll() = %+v; want nil", got)
	}
	if got := m.Mutations(); len(got) != 0 {
		t.Fatalf("mutations = %+v; want none", got)
	}
}

func TestSyncWindowMissingWindow(t *testing.T) {
	s := New(tabs.NewMemory(), Options{})
	got, err := s.SyncWindow(context.Background(), 42)
	if err != nil || got != nil {
		t.Fatalf("SyncWindow() = %+v, %v; want nil, nil", got, err)
	}
}

func TestSyncTabLeavesOtherTabs(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	a := m.Open(1, "A", "https://a.example.com")
	m.Open(1, "[Stale] B", "https://b.example.com")
	_ = m.Activate(a.ID)

	s := New(m, Options{})
	if _, err := s.SyncTab(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	assertTitles(t, titles(t, m, 1), "[Work]", "Work A", "[Stale] B")
}

func TestSyncTabMissingTab(t *testing.T) {
	s := New(tabs.NewMemory(), Options{})
	got, err := s.SyncTab(context.Background(), "tab-404")
	if err != nil || got != nil {
		t.Fatalf("SyncTab() = %+v, %v; want nil, nil", got, err)
	}
}

func TestSyncAllCoversEveryWindow(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	w1 := m.Open(1, "Mail", "https://mail.example.com")
	_ = m.Activate(w1.ID)
	m.Open(2, "[Home]", "")
	w2 := m.Open(2, "Recipes", "https://food.example.com")
	_ = m.Activate(w2.ID)

	s := New(m, Options{})
	got := s.SyncAll(context.Background())
	if len(got) != 2 {
		t.Fatalf("SyncAll() = %+v; want 2 mutations", got)
	}
	assertTitles(t, titles(t, m, 1), "[Work]", "Work Mail")
	assertTitles(t, titles(t, m, 2), "[Home]", "Home Recipes")
}

func TestPreviewDoesNotMutate(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	a := m.Open(1, "A", "https://a.example.com")
	_ = m.Activate(a.ID)

	s := New(m, Options{})
	list, desired, err := s.Preview(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || desired[a.ID] != "Work A" {
		t.Fatalf("Preview() = %+v, %v", list, desired)
	}
	if got := m.Mutations(); len(got) != 0 {
		t.Fatalf("mutations = %+v; want none", got)
	}
}

func TestMutationsPublished(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	a := m.Open(1, "A", "https://a.example.com")
	_ = m.Activate(a.ID)

	broker := relay.NewBroker()
	id, ch := broker.Subscribe()
	defer broker.Unsubscribe(id)

	s := New(m, Options{Broker: broker})
	_, _ = s.SyncWindow(context.Background(), 1)

	select {
	case evt := <-ch:
		if evt.Feed != relay.FeedMutation {
			t.Fatalf("feed = %q; want %q", evt.Feed, relay.FeedMutation)
		}
	case <-time.After(time.Second):
		t.Fatal("no mutation published")
	}
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestRunReactsToEvents(t *testing.T) {
	m := tabs.NewMemory()
	m.Open(1, "[Work]", "")
	a := m.Open(1, "A", "https://a.example.com")
	b := m.Open(1, "B", "https://b.example.com")
	_ = m.Activate(a.ID)

	s := New(m, Options{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool {
		got := titles(t, m, 1)
		return got[1] == "Work A"
	})
	_ = m.Activate(b.ID)
	waitFor(t, func() bool {
		got := titles(t, m, 1)
		return got[1] == "A" && got[2] == "Work B"
	})

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v; want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop")
	}
}
