package storage

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/emberfall/hearth/pkg/types"
)

// CompactionPolicy controls the retention/archival pass.
type CompactionPolicy struct {
	// MaxMessagesPerChat is the per-chat retention cap. Chats over the cap
	// have their oldest excess messages summarized into a single archive
	// memory and deleted. Default 1000.
	MaxMessagesPerChat int

	// MinImportance and MaxDecay select memories for outright purging:
	// importance strictly below MinImportance AND decay strictly above
	// MaxDecay. Defaults 0.2 and 0.8. Archive summaries are never purged.
	MinImportance float64
	MaxDecay      float64

	// Workers bounds the per-chat fan-out. Default 4.
	Workers int
}

// Normalize applies the policy defaults.
func (p *CompactionPolicy) Normalize() {
	if p.MaxMessagesPerChat <= 0 {
		p.MaxMessagesPerChat = 1000
	}
	if p.MinImportance <= 0 {
		p.MinImportance = 0.2
	}
	if p.MaxDecay <= 0 {
		p.MaxDecay = 0.8
	}
	if p.Workers <= 0 {
		p.Workers = 4
	}
}

// CompactionReport summarizes one retention pass.
type CompactionReport struct {
	ChatsCompacted  int           `json:"chats_compacted"`
	MessagesRemoved int           `json:"messages_removed"`
	MemoriesPurged  int           `json:"memories_purged"`
	Duration        time.Duration `json:"duration"`
}

// Compact runs the retention pass against s: per-chat message archival
// followed by a purge of decayed low-importance memories. Chats are
// processed concurrently on a bounded worker pool; each chat's work is
// independent, so a failure in one chat does not stop the others.
func Compact(ctx context.Context, s Storage, policy CompactionPolicy) (*CompactionReport, error) {
	policy.Normalize()
	start := time.Now()
	report := &CompactionReport{}

	chats, err := s.Query(ctx, QueryOptions{Table: TableChats})
	if err != nil {
		return nil, fmt.Errorf("compact: list chats: %w", err)
	}

	pool, err := ants.NewPool(policy.Workers)
	if err != nil {
		return nil, fmt.Errorf("compact: worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)

	for _, chat := range chats {
		chat := chat
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			removed, err := compactChat(ctx, s, chat, policy)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("compact: chat %s: %v", chat.ID(), err)
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if removed > 0 {
				report.ChatsCompacted++
				report.MessagesRemoved += removed
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = submitErr
			}
			mu.Unlock()
		}
	}
	wg.Wait()

	if firstErr != nil {
		return report, fmt.Errorf("compact: %w", firstErr)
	}

	purged, err := purgeDecayedMemories(ctx, s, policy)
	if err != nil {
		return report, err
	}
	report.MemoriesPurged = purged
	report.Duration = time.Since(start)

	return report, nil
}

// compactChat archives the oldest messages beyond the retention cap into a
// single summary memory, then deletes them. Returns the removed count.
func compactChat(ctx context.Context, s Storage, chat Row, policy CompactionPolicy) (int, error) {
	msgs, err := s.Query(ctx, QueryOptions{
		Table:     TableMessages,
		Where:     map[string]any{"chat_id": chat.ID()},
		OrderBy:   "turn_index",
		SortOrder: "asc",
	})
	if err != nil {
		return 0, err
	}

	if len(msgs) <= policy.MaxMessagesPerChat {
		return 0, nil
	}

	excess := msgs[:len(msgs)-policy.MaxMessagesPerChat]

	mem := &MemoryRow{
		ID:          uuid.New().String(),
		CharacterID: firstNonEmpty(RowString(chat, "character_id"), chat.ID()),
		ChatID:      chat.ID(),
		Source:      "compaction",
		Kind:        types.MemoryEvent,
		Content:     summarizeMessages(excess),
		Importance:  0.5,
		Decay:       0,
		Tags:        []string{"archive", "summary"},
	}
	if err := PutMemory(ctx, s, mem); err != nil {
		return 0, fmt.Errorf("write archive memory: %w", err)
	}

	// Summary is durable before any message is dropped; a crash mid-delete
	// loses nothing, it just leaves extra messages for the next pass.
	removed := 0
	for _, msg := range excess {
		if err := s.Delete(ctx, TableMessages, msg.ID()); err != nil {
			return removed, fmt.Errorf("delete archived message %s: %w", msg.ID(), err)
		}
		removed++
	}

	return removed, nil
}

// summarizeMessages builds the compressed trace stored in the archive
// memory. It always states the removed count and the covered time range,
// then includes as many truncated utterances as fit the size cap.
func summarizeMessages(msgs []Row) string {
	const (
		maxSummaryBytes = 4096
		maxPerMessage   = 120
	)

	first := time.UnixMilli(RowInt64(msgs[0], "created_at")).UTC()
	last := time.UnixMilli(RowInt64(msgs[len(msgs)-1], "created_at")).UTC()

	var b strings.Builder
	fmt.Fprintf(&b, "Archived %d messages (%s to %s).",
		len(msgs), first.Format(time.RFC3339), last.Format(time.RFC3339))

	for _, msg := range msgs {
		content := RowString(msg, "content")
		if len(content) > maxPerMessage {
			content = content[:maxPerMessage] + "…"
		}
		line := fmt.Sprintf("\n%s: %s", RowString(msg, "role"), content)
		if b.Len()+len(line) > maxSummaryBytes {
			break
		}
		b.WriteString(line)
	}

	return b.String()
}

// purgeDecayedMemories removes memories below the importance floor and
// above the decay ceiling. Archive summaries are kept regardless.
func purgeDecayedMemories(ctx context.Context, s Storage, policy CompactionPolicy) (int, error) {
	mems, err := s.Query(ctx, QueryOptions{Table: TableMemories})
	if err != nil {
		return 0, fmt.Errorf("compact: list memories: %w", err)
	}

	purged := 0
	for _, mem := range mems {
		importance, _ := mem["importance"].(float64)
		decay, _ := mem["decay"].(float64)
		if importance >= policy.MinImportance || decay <= policy.MaxDecay {
			continue
		}
		if hasTag(mem, "archive") {
			continue
		}
		if err := s.Delete(ctx, TableMemories, mem.ID()); err != nil {
			return purged, fmt.Errorf("compact: purge memory %s: %w", mem.ID(), err)
		}
		purged++
	}

	return purged, nil
}

func hasTag(row Row, tag string) bool {
	tags, _ := row["tags"].([]any)
	for _, t := range tags {
		if s, ok := t.(string); ok && s == tag {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
