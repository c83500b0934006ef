package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultChatDirName = ".fable/chats"
	chatFileExt        = ".jsonl"
	maxJSONLLineSize   = 1024 * 1024
)

var (
	ErrChatDirRequired = errors.New("chat directory is required")
	ErrChatIDRequired  = errors.New("chat id is required")
	ErrInvalidChatID   = errors.New("invalid chat id")
	ErrChatNotFound    = errors.New("chat not found")
)

// ChatInfo describes one chat file on disk.
type ChatInfo struct {
	ID        string
	Path      string
	UpdatedAt time.Time
	SizeBytes int64
}

// Store persists chats as JSONL files, one message per line. Unlike an
// append-only log, Save rewrites the whole file: edits and side-channel
// updates mutate earlier lines.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore constructs a chat store rooted at dir.
func NewStore(dir string) (*Store, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, ErrChatDirRequired
	}
	return &Store{dir: root}, nil
}

// DefaultDir returns the canonical chats directory under a data root.
func DefaultDir(dataRoot string) string {
	return filepath.Join(dataRoot, defaultChatDirName)
}

// Save writes the full chat sequence to its file, replacing any previous
// contents. Callers coalesce saves; the store does not debounce.
func (s *Store) Save(ctx context.Context, c *Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil {
		return ErrChatIDRequired
	}

	path, err := s.chatPath(c.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create chat dir %s: %w", s.dir, err)
	}

	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open chat file %s: %w", tmp, err)
	}

	writer := bufio.NewWriter(file)
	for _, msg := range c.Messages {
		raw, err := json.Marshal(msg)
		if err != nil {
			_ = file.Close()
			return fmt.Errorf("marshal chat message: %w", err)
		}
		if _, err := writer.Write(raw); err != nil {
			_ = file.Close()
			return fmt.Errorf("write chat message: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			_ = file.Close()
			return fmt.Errorf("write chat newline: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("flush chat file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close chat file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace chat file %s: %w", path, err)
	}
	return nil
}

// Load reads one chat's full message sequence.
func (s *Store) Load(ctx context.Context, chatID string) (*Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.chatPath(chatID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrChatNotFound, strings.TrimSpace(chatID))
		}
		return nil, fmt.Errorf("open chat file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLineSize)

	c := &Chat{ID: strings.TrimSpace(chatID)}
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("decode chat line %d: %w", lineNum, err)
		}
		if msg.ID == "" {
			msg.ID = NewMessageID()
		}
		c.Messages = append(c.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("decode chat line too large (> %d bytes): %w", maxJSONLLineSize, err)
		}
		if errors.Is(err, io.EOF) {
			return c, nil
		}
		return nil, fmt.Errorf("scan chat file: %w", err)
	}

	return c, nil
}

// List returns known chats sorted by newest first.
func (s *Store) List(ctx context.Context) ([]ChatInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chat dir %s: %w", s.dir, err)
	}

	out := make([]ChatInfo, 0, len(items))
	for _, item := range items {
		if item.IsDir() || filepath.Ext(item.Name()) != chatFileExt {
			continue
		}

		info, err := item.Info()
		if err != nil {
			return nil, fmt.Errorf("read chat file info %s: %w", item.Name(), err)
		}

		id := strings.TrimSuffix(item.Name(), chatFileExt)
		out = append(out, ChatInfo{
			ID:        id,
			Path:      filepath.Join(s.dir, item.Name()),
			UpdatedAt: info.ModTime(),
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) chatPath(chatID string) (string, error) {
	id, ok := NormalizeChatID(chatID)
	if !ok {
		if strings.TrimSpace(chatID) == "" {
			return "", ErrChatIDRequired
		}
		return "", fmt.Errorf("%w: %s", ErrInvalidChatID, chatID)
	}
	return filepath.Join(s.dir, id+chatFileExt), nil
}
