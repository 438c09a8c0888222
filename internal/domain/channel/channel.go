// Package channel описывает контракт канала сообщений, через который бот
// разговаривает с пользователем, и типы, которыми он оперирует.
package channel

import (
	"context"

	"github.com/estudia/material-bot/internal/domain/catalog"
)

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE PARTS
// ══════════════════════════════════════════════════════════════════════════════

// Button - кнопка с полезной нагрузкой формата "Command:Argument".
type Button struct {
	Title   string
	Payload string
}

// Option - карточка меню: заголовок, подзаголовок и свои кнопки.
type Option struct {
	Title    string
	Subtitle string
	Buttons  []Button
}

// Attachment - параметры отправки одного вложения.
// Если ReuseID задан, URL не нужен: канал повторно использует ранее загруженный файл.
type Attachment struct {
	Type    catalog.MaterialType
	URL     string
	ReuseID string
}

// Outcome - результат отправки одного вложения.
type Outcome struct {
	ReuseID string
	Err     error
}

// OK - вложение доставлено.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE CHANNEL
// ══════════════════════════════════════════════════════════════════════════════

// MessageChannel - исходящий канал сообщений.
type MessageChannel interface {
	// StartInteraction показывает индикатор "печатает…".
	StartInteraction(ctx context.Context, userID int64) error

	// SendText отправляет текст. silent отключает звуковое уведомление.
	SendText(ctx context.Context, userID int64, text string, silent bool) error

	// SendTextWithURLs отправляет текст с предпросмотром ссылок.
	SendTextWithURLs(ctx context.Context, userID int64, text string, silent bool) error

	// SendAttachment отправляет одно вложение и возвращает идентификатор для повторной отправки.
	SendAttachment(ctx context.Context, userID int64, a Attachment) (string, error)

	// SendSequentialAttachments отправляет вложения строго по порядку.
	// Результаты выровнены по индексу с входом. Ошибка одного вложения не
	// прерывает остальные; возвращаемая ошибка означает сбой всего вызова.
	SendSequentialAttachments(ctx context.Context, userID int64, as []Attachment) ([]Outcome, error)

	// SendOptionsMenu отправляет набор карточек.
	SendOptionsMenu(ctx context.Context, userID int64, options []Option) error

	// SendReplyButtons отправляет текст с кнопками ответа.
	SendReplyButtons(ctx context.Context, userID int64, text string, buttons []Button) error
}
