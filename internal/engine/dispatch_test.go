package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/PostPilot/internal/compose"
	"github.com/BTreeMap/PostPilot/internal/models"
	"github.com/BTreeMap/PostPilot/internal/publish"
	"github.com/BTreeMap/PostPilot/internal/session"
)

// safeMessenger is a goroutine-safe no-op messenger for dispatcher tests.
type safeMessenger struct{}

func (m *safeMessenger) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return models.CanonicalSenderID(recipient), nil
}
func (m *safeMessenger) SendText(ctx context.Context, to string, body string) error { return nil }
func (m *safeMessenger) SendButtons(ctx context.Context, to string, body string, buttons []models.Button, header string) error {
	return nil
}
func (m *safeMessenger) Start(ctx context.Context) error    { return nil }
func (m *safeMessenger) Stop() error                        { return nil }
func (m *safeMessenger) Events() <-chan models.InboundEvent { return nil }

// orderedIngester records ingestion order per sender, derived from the ref
// prefix, under a lock so concurrent shards can share it.
type orderedIngester struct {
	mu   sync.Mutex
	refs map[string][]string
}

func newOrderedIngester() *orderedIngester {
	return &orderedIngester{refs: make(map[string][]string)}
}

func (m *orderedIngester) Ingest(ctx context.Context, ref string, kind models.MediaKind) models.MediaItem {
	sender, _, _ := strings.Cut(ref, "/")
	m.mu.Lock()
	m.refs[sender] = append(m.refs[sender], ref)
	m.mu.Unlock()
	return models.MediaItem{StorageURL: "file:///" + ref, Kind: kind, Analysis: models.AnalysisUnavailable(kind)}
}

func TestDispatcher_ShardIsStablePerSender(t *testing.T) {
	d := NewDispatcher(&Engine{}, 8)

	for _, sender := range []string{"15551234567", "15559876543", "441632960000"} {
		first := d.shardFor(sender)
		for i := 0; i < 10; i++ {
			if got := d.shardFor(sender); got != first {
				t.Fatalf("shard for %q changed: %d then %d", sender, first, got)
			}
		}
		// Canonical variants of the same number land on the same shard.
		if got := d.shardFor("+" + sender); got != first {
			t.Errorf("shard for +%s is %d, want %d", sender, got, first)
		}
	}
}

func TestDispatcher_SerializesPerSender(t *testing.T) {
	const senders = 20
	const eventsPerSender = 10

	store := session.NewInMemoryStore()
	ingester := newOrderedIngester()
	engine := NewEngine(store, &safeMessenger{}, publish.NewMemorySink(), ingester, &mockTranscriber{}, compose.NewComposer(nil))
	d := NewDispatcher(engine, 4)

	events := make(chan models.InboundEvent, senders*eventsPerSender)
	for i := 0; i < eventsPerSender; i++ {
		for s := 0; s < senders; s++ {
			sender := fmt.Sprintf("1555000%04d", s)
			events <- models.InboundEvent{
				SenderID: sender,
				Kind:     models.EventImage,
				MediaRef: fmt.Sprintf("%s/img_%02d", sender, i),
			}
		}
	}
	close(events)

	d.Run(context.Background(), events)

	for s := 0; s < senders; s++ {
		sender := fmt.Sprintf("1555000%04d", s)

		refs := ingester.refs[sender]
		if len(refs) != eventsPerSender {
			t.Fatalf("sender %s: expected %d ingests, got %d", sender, eventsPerSender, len(refs))
		}
		for i, ref := range refs {
			if want := fmt.Sprintf("%s/img_%02d", sender, i); ref != want {
				t.Errorf("sender %s: event %d out of order: got %q, want %q", sender, i, ref, want)
			}
		}

		// Serialized read-modify-write: every event's item survived.
		rec, err := store.Get(context.Background(), sender)
		if err != nil || rec == nil {
			t.Fatalf("sender %s: missing record: %v", sender, err)
		}
		if len(rec.MediaItems) != eventsPerSender {
			t.Errorf("sender %s: expected %d media items, got %d", sender, eventsPerSender, len(rec.MediaItems))
		}
	}
}

func TestDispatcher_StopsOnContextCancel(t *testing.T) {
	engine := NewEngine(session.NewInMemoryStore(), &safeMessenger{}, publish.NewMemorySink(), newOrderedIngester(), &mockTranscriber{}, compose.NewComposer(nil))
	d := NewDispatcher(engine, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan models.InboundEvent)
	done := make(chan struct{})
	go func() {
		d.Run(ctx, events)
		close(done)
	}()

	<-done // Run must return promptly with a cancelled context.
}
