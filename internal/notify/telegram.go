package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends messages and receives bot updates through the Bot API.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram authenticates against the Bot API with token.
func NewTelegram(token string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot}, nil
}

// Username is the bot's account name, for logging.
func (t *Telegram) Username() string {
	return t.bot.Self.UserName
}

func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	_, err := t.bot.Send(msg)
	return err
}

func (t *Telegram) SendKeyboard(ctx context.Context, chatID int64, text string, kb Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup(kb)
	_, err := t.bot.Send(msg)
	return err
}

func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if kb == nil {
		_, err := t.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
		return err
	}
	_, err := t.bot.Send(tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup(kb)))
	return err
}

func (t *Telegram) AnswerCallback(_ context.Context, id string) error {
	_, err := t.bot.Request(tgbotapi.NewCallback(id, ""))
	return err
}

// Updates long-polls the Bot API until ctx is done, then closes the channel.
func (t *Telegram) Updates(ctx context.Context) <-chan Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	in := t.bot.GetUpdatesChan(cfg)

	out := make(chan Update)
	go func() {
		defer close(out)
		defer t.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				u, ok := convertUpdate(raw)
				if !ok {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func convertUpdate(raw tgbotapi.Update) (Update, bool) {
	var u Update
	if m := raw.Message; m != nil && m.Chat != nil {
		u.Message = &Message{
			ChatID:    m.Chat.ID,
			MessageID: m.MessageID,
			Text:      m.Text,
			Command:   m.Command(),
		}
	}
	if cb := raw.CallbackQuery; cb != nil && cb.Message != nil && cb.Message.Chat != nil {
		u.Callback = &Callback{
			ID:        cb.ID,
			ChatID:    cb.Message.Chat.ID,
			MessageID: cb.Message.MessageID,
			Data:      cb.Data,
		}
	}
	return u, u.Message != nil || u.Callback != nil
}

func markup(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
