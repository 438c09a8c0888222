package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/channel"
	"github.com/estudia/material-bot/pkg/logger"
)

// maxCallbackData is the Bot API limit for callback_data, in bytes.
const maxCallbackData = 64

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE CHANNEL IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// Channel implements channel.MessageChannel on top of the Bot API.
// User IDs are private chat IDs.
type Channel struct {
	client *Client
	log    *logger.Logger
}

var _ channel.MessageChannel = (*Channel)(nil)

// NewChannel creates a Channel.
func NewChannel(client *Client, log *logger.Logger) *Channel {
	if log == nil {
		log = logger.Nop()
	}
	return &Channel{client: client, log: log.With(logger.Component("telegram_channel"))}
}

// StartInteraction shows the typing indicator.
func (c *Channel) StartInteraction(ctx context.Context, userID int64) error {
	return c.client.SendChatAction(ctx, userID, "typing")
}

// SendText sends plain text without link previews.
func (c *Channel) SendText(ctx context.Context, userID int64, text string, silent bool) error {
	_, err := c.client.SendMessage(ctx, SendMessageParams{
		ChatID:              userID,
		Text:                text,
		DisableNotification: silent,
		DisableWebPreview:   true,
	})
	return err
}

// SendTextWithURLs sends text and lets Telegram preview its links.
func (c *Channel) SendTextWithURLs(ctx context.Context, userID int64, text string, silent bool) error {
	_, err := c.client.SendMessage(ctx, SendMessageParams{
		ChatID:              userID,
		Text:                text,
		DisableNotification: silent,
	})
	return err
}

// SendAttachment sends one attachment and returns its file_id.
func (c *Channel) SendAttachment(ctx context.Context, userID int64, a channel.Attachment) (string, error) {
	media := a.ReuseID
	if media == "" {
		media = a.URL
	}
	if media == "" {
		return "", fmt.Errorf("telegram: attachment has neither url nor reuse id")
	}

	msg, err := c.client.SendMedia(ctx, SendMediaParams{
		ChatID: userID,
		Kind:   mediaKind(a.Type),
		Media:  media,
	})
	if err != nil {
		return "", err
	}
	return msg.FileID(), nil
}

// SendSequentialAttachments sends attachments one at a time, in order.
// A chat that cannot be reached or a cancelled context fails the whole call.
func (c *Channel) SendSequentialAttachments(ctx context.Context, userID int64, as []channel.Attachment) ([]channel.Outcome, error) {
	out := make([]channel.Outcome, len(as))
	for i, a := range as {
		id, err := c.SendAttachment(ctx, userID, a)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if IsUnreachable(err) {
				return nil, err
			}
			c.log.Warn("attachment rejected", logger.UserID(userID), logger.Int("index", i), logger.Err(err))
		}
		out[i] = channel.Outcome{ReuseID: id, Err: err}
	}
	return out, nil
}

// SendOptionsMenu renders the options as one HTML message: a numbered list of
// titles and subtitles, and one keyboard row per option.
func (c *Channel) SendOptionsMenu(ctx context.Context, userID int64, options []channel.Option) error {
	if len(options) == 0 {
		return nil
	}

	var sb strings.Builder
	rows := make([][]InlineKeyboardButton, 0, len(options))
	for i, opt := range options {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. <b>%s</b>", i+1, html.EscapeString(opt.Title))
		if opt.Subtitle != "" {
			sb.WriteString("\n")
			sb.WriteString(html.EscapeString(opt.Subtitle))
		}
		if row := c.keyboardRow(userID, opt.Buttons); len(row) > 0 {
			rows = append(rows, row)
		}
	}

	_, err := c.client.SendMessage(ctx, SendMessageParams{
		ChatID:            userID,
		Text:              sb.String(),
		ParseMode:         "HTML",
		DisableWebPreview: true,
		ReplyMarkup:       &InlineKeyboardMarkup{InlineKeyboard: rows},
	})
	return err
}

// SendReplyButtons sends text with one button per row.
func (c *Channel) SendReplyButtons(ctx context.Context, userID int64, text string, buttons []channel.Button) error {
	rows := make([][]InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		if row := c.keyboardRow(userID, []channel.Button{b}); len(row) > 0 {
			rows = append(rows, row)
		}
	}

	params := SendMessageParams{
		ChatID:            userID,
		Text:              text,
		DisableWebPreview: true,
	}
	if len(rows) > 0 {
		params.ReplyMarkup = &InlineKeyboardMarkup{InlineKeyboard: rows}
	}
	_, err := c.client.SendMessage(ctx, params)
	return err
}

// keyboardRow converts buttons, dropping those whose payload Telegram would reject.
// TODO: store payloads over 64 bytes in redis and send a short token instead.
func (c *Channel) keyboardRow(userID int64, buttons []channel.Button) []InlineKeyboardButton {
	row := make([]InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		if len(b.Payload) > maxCallbackData {
			c.log.Warn("button payload too long, dropped",
				logger.UserID(userID),
				logger.String("payload", b.Payload),
			)
			continue
		}
		row = append(row, InlineKeyboardButton{Text: b.Title, CallbackData: b.Payload})
	}
	return row
}

func mediaKind(t catalog.MaterialType) MediaKind {
	switch t {
	case catalog.TypeImage:
		return MediaPhoto
	case catalog.TypeVideo:
		return MediaVideo
	case catalog.TypeAudio:
		return MediaAudio
	default:
		return MediaDocument
	}
}
