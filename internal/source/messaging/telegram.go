package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

const connectTimeout = 30 * time.Second

// TelegramConfig identifies the API application and the user session used
// for searches. Session is a Telethon string session.
type TelegramConfig struct {
	AppID   int
	AppHash string
	Session string
}

// TelegramClient implements Searcher over MTProto. The connection is opened
// on the first search and reused until Close. A failed connect is not
// remembered; the next search tries again.
type TelegramClient struct {
	cfg    TelegramConfig
	logger *slog.Logger

	mu     sync.Mutex
	api    *tg.Client
	cancel context.CancelFunc
	done   chan error
}

// NewTelegramClient creates an unconnected client.
func NewTelegramClient(cfg TelegramConfig, logger *slog.Logger) *TelegramClient {
	return &TelegramClient{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "telegram")),
	}
}

// SearchGlobal runs messages.searchGlobal and resolves each message's channel.
func (t *TelegramClient) SearchGlobal(ctx context.Context, query string, limit int) ([]Message, error) {
	api, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	res, err := api.MessagesSearchGlobal(ctx, &tg.MessagesSearchGlobalRequest{
		Q:          query,
		Filter:     &tg.InputMessagesFilterEmpty{},
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	modified, ok := res.AsModified()
	if !ok {
		return nil, nil
	}
	return convertMessages(modified.GetMessages(), modified.GetChats()), nil
}

// Close terminates the connection, if any.
func (t *TelegramClient) Close() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.api, t.cancel, t.done = nil, nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("closing telegram client: %w", err)
	}
	return nil
}

func (t *TelegramClient) connect(ctx context.Context) (*tg.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.api != nil {
		return t.api, nil
	}

	data, err := session.TelethonSession(t.cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	storage := &session.StorageMemory{}
	loader := session.Loader{Storage: storage}
	if err := loader.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	client := telegram.NewClient(t.cfg.AppID, t.cfg.AppHash, telegram.Options{
		SessionStorage: storage,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	case <-timer.C:
		cancel()
		<-done
		return nil, fmt.Errorf("connecting to telegram: timed out after %s", connectTimeout)
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	}

	t.api = client.API()
	t.cancel = cancel
	// Forward the run result so Close can wait on it, and drop the handle if
	// the connection dies on its own.
	t.done = make(chan error, 1)
	go t.watch(done, t.done)

	t.logger.Info("telegram connected")
	return t.api, nil
}

func (t *TelegramClient) watch(in <-chan error, out chan<- error) {
	err := <-in
	t.mu.Lock()
	if t.done == out {
		t.api, t.cancel, t.done = nil, nil, nil
		if err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Warn("telegram connection closed", slog.String("error", err.Error()))
		}
	}
	t.mu.Unlock()
	out <- err
}

// convertMessages keeps plain messages and attaches the posting channel's
// title and public username.
func convertMessages(msgs []tg.MessageClass, chats []tg.ChatClass) []Message {
	channels := make(map[int64]*tg.Channel, len(chats))
	for _, c := range chats {
		if ch, ok := c.(*tg.Channel); ok {
			channels[ch.ID] = ch
		}
	}

	var out []Message
	for _, mc := range msgs {
		msg, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		m := Message{
			ID:   msg.ID,
			Text: msg.Message,
			Date: time.Unix(int64(msg.Date), 0).UTC(),
		}
		if peer, ok := msg.PeerID.(*tg.PeerChannel); ok {
			if ch := channels[peer.ChannelID]; ch != nil {
				m.ChannelTitle = ch.Title
				m.ChannelHandle = ch.Username
			}
		}
		out = append(out, m)
	}
	return out
}
