package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "medrax:history"

// appendQAScript pushes onto the Q&A list only while the record hash exists.
var appendQAScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('RPUSH', KEYS[2], ARGV[1])
`)

// RedisStore keeps each record as a hash plus an append-only list of Q&A
// entries, and orders records through a sorted set scored by creation time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix selects the default namespace.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// recordKey uses a hash tag so a record's keys share one cluster slot.
func (s *RedisStore) recordKey(id ID) string {
	return fmt.Sprintf("%s:record:{%s}", s.prefix, id.String())
}

func (s *RedisStore) qaKey(id ID) string {
	return s.recordKey(id) + ":qa"
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

// Create writes the record hash and its index entry in one MULTI/EXEC.
func (s *RedisStore) Create(ctx context.Context, rec *Record) (ID, error) {
	if rec == nil {
		return ID{}, errors.New("record is required")
	}
	prepareForCreate(rec)

	qaPayloads := make([]any, 0, len(rec.QAHistory))
	for _, entry := range rec.QAHistory {
		payload, err := json.Marshal(entry)
		if err != nil {
			return ID{}, fmt.Errorf("failed to encode qa entry: %w", err)
		}
		qaPayloads = append(qaPayloads, payload)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(rec.ID), map[string]any{
			"image_base64": rec.ImageBase64,
			"caption":      rec.Caption,
			"report":       rec.Report,
			"created_at":   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if len(qaPayloads) > 0 {
			pipe.RPush(ctx, s.qaKey(rec.ID), qaPayloads...)
		}
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(rec.CreatedAt.UnixMicro()),
			Member: rec.ID.String(),
		})
		return nil
	})
	if err != nil {
		return ID{}, fmt.Errorf("failed to insert history record: %w", err)
	}

	log.Printf("[history] created record id=%s", rec.ID)
	return rec.ID, nil
}

// Get loads the hash and Q&A list of a single record.
func (s *RedisStore) Get(ctx context.Context, id ID) (*Record, error) {
	var (
		fields *redis.MapStringStringCmd
		qa     *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, s.recordKey(id))
		qa = pipe.LRange(ctx, s.qaKey(id), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}

	rec, err := decodeRecord(id, fields.Val(), qa.Val())
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List walks the index newest-first and loads every record in one pipeline.
func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	members, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list history index: %w", err)
	}
	if len(members) == 0 {
		return []Record{}, nil
	}

	type pending struct {
		id     ID
		fields *redis.MapStringStringCmd
		qa     *redis.StringSliceCmd
	}
	batch := make([]pending, 0, len(members))

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, member := range members {
			id, parseErr := ParseID(member)
			if parseErr != nil {
				log.Printf("[history] skipping malformed index member %q", member)
				continue
			}
			batch = append(batch, pending{
				id:     id,
				fields: pipe.HGetAll(ctx, s.recordKey(id)),
				qa:     pipe.LRange(ctx, s.qaKey(id), 0, -1),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history records: %w", err)
	}

	records := make([]Record, 0, len(batch))
	for _, item := range batch {
		rec, err := decodeRecord(item.id, item.fields.Val(), item.qa.Val())
		if errors.Is(err, ErrNotFound) {
			// index entry outlived its hash; removed out of band
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// AppendQA runs the conditional push script.
func (s *RedisStore) AppendQA(ctx context.Context, id ID, entry QAEntry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode qa entry: %w", err)
	}

	n, err := appendQAScript.Run(ctx, s.client, []string{s.recordKey(id), s.qaKey(id)}, payload).Int64()
	if err != nil {
		return fmt.Errorf("failed to append qa entry: %w", err)
	}
	if n < 0 {
		return ErrNotFound
	}
	return nil
}

func decodeRecord(id ID, fields map[string]string, qa []string) (*Record, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		ID:          id,
		ImageBase64: fields["image_base64"],
		Caption:     fields["caption"],
		Report:      fields["report"],
		QAHistory:   make([]QAEntry, 0, len(qa)),
	}

	if raw := fields["created_at"]; raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid created_at for record %s: %w", id, err)
		}
		rec.CreatedAt = createdAt
	}

	for _, raw := range qa {
		var entry QAEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("invalid qa entry for record %s: %w", id, err)
		}
		rec.QAHistory = append(rec.QAHistory, entry)
	}
	return rec, nil
}
