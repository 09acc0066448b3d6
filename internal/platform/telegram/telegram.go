// Package telegram implements platform.Client on top of the Telegram Bot API.
//
// The Bot API exposes no history endpoint, so the client keeps a per-chat
// journal fed by the long-poll update stream and serves GetMessages pagination
// windows from it. Media downloads resolve the file URL via GetFileDirectURL
// and stream the bytes over HTTP.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chatmirror/chatmirror/internal/platform"
)

const downloadTimeout = 60 * time.Second

// authCacheTTL bounds how long a successful authorization check is trusted.
// The fetch driver checks authorization once per page; re-validating the
// token against the platform on every page would double the request volume.
const authCacheTTL = 5 * time.Minute

// maxMediaBytes rejects downloads larger than this to bound memory; the
// pipeline holds attachment bytes in memory until they reach durable storage.
const maxMediaBytes int64 = 200 * 1024 * 1024

// Client is a Telegram-backed platform.Client.
type Client struct {
	bot     *tgbotapi.BotAPI
	journal *journal
	logger  *slog.Logger
	httpc   *http.Client

	// fileURL resolves a file id to a download URL; overridable in tests.
	fileURL func(fileID string) (string, error)
	// getMe validates the token against the platform; overridable in tests.
	getMe func() error

	authMu      sync.Mutex
	authOK      bool
	authChecked time.Time
}

// New creates a Client for the given bot token.
func New(log *slog.Logger, token string) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	c := &Client{
		bot:     bot,
		journal: newJournal(),
		logger:  log.With(slog.String("component", "telegram")),
		httpc:   &http.Client{Timeout: downloadTimeout},
		fileURL: bot.GetFileDirectURL,
		getMe: func() error {
			_, err := bot.GetMe()
			return err
		},
	}
	return c, nil
}

// Start begins consuming the update stream into the journal. It returns a
// stop function that shuts the long-poll session down and drains the channel
// so the library's polling goroutine can exit.
func (c *Client) Start(ctx context.Context) func() {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := c.bot.GetUpdatesChan(updateConfig)
	loopCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-loopCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					c.logger.Info("updates channel closed")
					return
				}
				if update.Message == nil {
					continue
				}
				msg := fromBotMessage(update.Message)
				c.journal.record(msg)
			}
		}
	}()

	return func() {
		c.bot.StopReceivingUpdates()
		cancel()
		for range updates {
		}
	}
}

// IsAuthorized reports whether the bot token is accepted by the platform.
// Successful checks are cached for authCacheTTL; failures are never cached.
func (c *Client) IsAuthorized(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	c.authMu.Lock()
	defer c.authMu.Unlock()
	if c.authOK && time.Since(c.authChecked) < authCacheTTL {
		return true
	}
	if err := c.getMe(); err != nil {
		c.authOK = false
		c.logger.Warn("authorization check failed", slog.Any("error", err))
		return false
	}
	c.authOK = true
	c.authChecked = time.Now()
	return true
}

// GetMessages serves one pagination window of a chat's journal.
func (c *Client) GetMessages(ctx context.Context, chatID int64, opts platform.HistoryOptions) ([]platform.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return c.journal.window(chatID, opts), nil
}

// DownloadMedia fetches the raw bytes behind a Telegram file reference.
func (c *Client) DownloadMedia(ctx context.Context, ref platform.MediaRef) ([]byte, error) {
	fileID := strings.TrimSpace(ref.FileID)
	if fileID == "" {
		return nil, fmt.Errorf("media reference requires a file id")
	}
	downloadURL, err := c.fileURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("download media status: %d", resp.StatusCode)
	}
	if resp.ContentLength > maxMediaBytes {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("media too large: %d bytes", resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > maxMediaBytes {
		return nil, fmt.Errorf("media too large: max %d bytes", maxMediaBytes)
	}
	if len(data) == 0 {
		return nil, platform.ErrNoMedia
	}
	return data, nil
}

// SendMessage posts a plain text message into a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("message text is required")
	}
	_, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// fromBotMessage maps a Bot API message into the platform-native record.
func fromBotMessage(msg *tgbotapi.Message) platform.Message {
	out := platform.Message{
		ID:        int64(msg.MessageID),
		Date:      time.Unix(int64(msg.Date), 0).UTC(),
		Text:      strings.TrimSpace(msg.Text),
		Tombstone: isTombstone(msg),
	}
	if msg.Chat != nil {
		out.ChatID = msg.Chat.ID
	}
	if msg.From != nil {
		out.UserID = msg.From.ID
	}
	if out.Text == "" {
		out.Text = strings.TrimSpace(msg.Caption)
	}
	out.Media = collectMedia(msg)
	return out
}

func collectMedia(msg *tgbotapi.Message) []platform.MediaRef {
	if msg == nil {
		return nil
	}
	var refs []platform.MediaRef
	if len(msg.Photo) > 0 {
		photo := pickPhoto(msg.Photo)
		refs = append(refs, platform.MediaRef{
			Kind:   platform.MediaPhoto,
			FileID: photo.FileID,
			Size:   int64(photo.FileSize),
		})
	}
	if msg.Sticker != nil {
		refs = append(refs, platform.MediaRef{
			Kind:    platform.MediaSticker,
			FileID:  msg.Sticker.FileID,
			Size:    int64(msg.Sticker.FileSize),
			Emoji:   strings.TrimSpace(msg.Sticker.Emoji),
			SetName: strings.TrimSpace(msg.Sticker.SetName),
		})
	}
	if msg.Document != nil {
		refs = append(refs, platform.MediaRef{
			Kind:   platform.MediaDocument,
			FileID: msg.Document.FileID,
			Name:   strings.TrimSpace(msg.Document.FileName),
			Mime:   strings.TrimSpace(msg.Document.MimeType),
			Size:   int64(msg.Document.FileSize),
		})
	}
	return refs
}

// pickPhoto selects the largest rendition of a photo. File size decides when
// both renditions report one; pixel area breaks ties and covers renditions
// with no reported size.
func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		switch {
		case item.FileSize > 0 && best.FileSize > 0 && item.FileSize != best.FileSize:
			if item.FileSize > best.FileSize {
				best = item
			}
		case item.Width*item.Height > best.Width*best.Height:
			best = item
		}
	}
	return best
}

// isTombstone reports whether the message is a service event rather than
// user content.
func isTombstone(msg *tgbotapi.Message) bool {
	if msg == nil {
		return true
	}
	switch {
	case msg.NewChatMembers != nil,
		msg.LeftChatMember != nil,
		msg.NewChatTitle != "",
		msg.NewChatPhoto != nil,
		msg.DeleteChatPhoto,
		msg.GroupChatCreated,
		msg.SuperGroupChatCreated,
		msg.ChannelChatCreated,
		msg.PinnedMessage != nil,
		msg.MigrateToChatID != 0,
		msg.MigrateFromChatID != 0:
		return true
	}
	return false
}
