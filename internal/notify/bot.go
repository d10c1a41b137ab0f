package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"agendacomic/internal/config"
	"agendacomic/internal/geo"
	appLog "agendacomic/internal/log"
	"agendacomic/internal/model"
)

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

// Update is an incoming chat message or a button press.
type Update struct {
	Message  *Message
	Callback *Callback
}

// Message is a text message. Command is the bot command without the slash
// ("start"), empty for plain text.
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
	Command   string
}

// Callback is an inline keyboard press on one of the bot's messages.
type Callback struct {
	ID        string
	ChatID    int64
	MessageID int
	Data      string
}

// Messenger is the chat surface the bot talks through.
type Messenger interface {
	Sender
	SendKeyboard(ctx context.Context, chatID int64, text string, kb Keyboard) error
	// Edit replaces the text of a sent message; a nil kb removes its keyboard.
	Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error
	AnswerCallback(ctx context.Context, id string) error
}

const helpText = "¡Hola! Aquí tienes una lista de comandos que puedes usar:\n\n" +
	"/start - Añadir una nueva preferencia de notificación.\n" +
	"/check - Listar tus preferencias actuales.\n" +
	"/delete - Eliminar una preferencia concreta.\n" +
	"/clean - Eliminar todas tus preferencias.\n" +
	"/help - Mostrar este mensaje de ayuda.\n"

// Bot lets each chat manage its own subscriptions. The selection in progress
// travels in the callback data, so the bot keeps no per-chat state.
//
// Callback data:
//
//	t:<type>                      type chosen, ask for the community
//	c:<type>:<community>          community chosen, ask for the province
//	p:<type>:<community>:<prov>   save
//	d:<n>                         delete the chat's n-th subscription
//
// Indexes are positions in typeOptions, geo.Communities and geo.ProvincesIn;
// 0 is always the wildcard.
type Bot struct {
	msgr  Messenger
	prefs *Prefs
}

func NewBot(msgr Messenger, prefs *Prefs) *Bot {
	return &Bot{msgr: msgr, prefs: prefs}
}

// Run handles updates until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan Update) error {
	appLog.Info("notify: bot listening")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.Handle(ctx, u)
		}
	}
}

// Handle processes one update. Failures are logged, never returned, so one
// bad chat cannot stop the loop.
func (b *Bot) Handle(ctx context.Context, u Update) {
	if u.Message != nil {
		b.handleMessage(ctx, u.Message)
	}
	if u.Callback != nil {
		b.handleCallback(ctx, u.Callback)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	switch msg.Command {
	case "start":
		b.keyboard(ctx, msg.ChatID, "¿De qué tipo de eventos deseas ser notificado?", typeKeyboard())
	case "check":
		b.reply(ctx, msg.ChatID, b.describe(msg.ChatID))
	case "delete":
		b.startDelete(ctx, msg.ChatID)
	case "clean":
		n, err := b.prefs.Clear(msg.ChatID)
		if err != nil {
			appLog.Error("notify: clear preferences failed", err, "chat_id", msg.ChatID)
			b.reply(ctx, msg.ChatID, "No se pudieron eliminar tus preferencias. Inténtalo más tarde.")
			return
		}
		appLog.Info("notify: preferences cleared", "chat_id", msg.ChatID, "count", n)
		b.reply(ctx, msg.ChatID, "Todas tus preferencias han sido eliminadas.")
	case "help":
		b.reply(ctx, msg.ChatID, helpText)
	default:
		b.reply(ctx, msg.ChatID, "Usa /help para ver los comandos disponibles.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *Callback) {
	if err := b.msgr.AnswerCallback(ctx, cb.ID); err != nil {
		appLog.Warn("notify: answer callback failed", err, "chat_id", cb.ChatID)
	}

	parts := strings.Split(cb.Data, ":")
	idx := make([]int, 0, len(parts)-1)
	for _, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			b.invalid(ctx, cb)
			return
		}
		idx = append(idx, n)
	}

	switch {
	case parts[0] == "t" && len(idx) == 1:
		if _, ok := typeAt(idx[0]); !ok {
			b.invalid(ctx, cb)
			return
		}
		b.edit(ctx, cb, "¿De qué comunidad autónoma deseas recibir notificaciones?", communityKeyboard(idx[0]))

	case parts[0] == "c" && len(idx) == 2:
		if idx[1] == 0 {
			b.save(ctx, cb, idx[0], 0, 0)
			return
		}
		_, typeOK := typeAt(idx[0])
		community, ok := communityAt(idx[1])
		if !typeOK || !ok {
			b.invalid(ctx, cb)
			return
		}
		b.edit(ctx, cb, "¿De qué provincia deseas recibir notificaciones?", provinceKeyboard(idx[0], idx[1], community))

	case parts[0] == "p" && len(idx) == 3:
		b.save(ctx, cb, idx[0], idx[1], idx[2])

	case parts[0] == "d" && len(idx) == 1:
		sub, ok, err := b.prefs.Remove(cb.ChatID, idx[0])
		switch {
		case err != nil:
			appLog.Error("notify: remove preference failed", err, "chat_id", cb.ChatID)
			b.edit(ctx, cb, "No se pudo eliminar la preferencia. Inténtalo más tarde.", nil)
		case !ok:
			b.edit(ctx, cb, "Esa preferencia ya no existe.", nil)
		default:
			appLog.Info("notify: preference removed", "chat_id", cb.ChatID, "type", sub.Type, "community", sub.Community, "province", sub.Province)
			b.edit(ctx, cb, "¡Gracias! La preferencia ha sido eliminada.", nil)
		}

	default:
		b.invalid(ctx, cb)
	}
}

func (b *Bot) save(ctx context.Context, cb *Callback, ti, ci, pi int) {
	sub, ok := subscriptionAt(cb.ChatID, ti, ci, pi)
	if !ok {
		b.invalid(ctx, cb)
		return
	}
	added, err := b.prefs.Add(sub)
	switch {
	case err != nil:
		appLog.Error("notify: save preference failed", err, "chat_id", cb.ChatID)
		b.edit(ctx, cb, "No se pudo guardar la preferencia. Inténtalo más tarde.", nil)
	case !added:
		b.edit(ctx, cb, "Ya tenías esa preferencia guardada.", nil)
	default:
		appLog.Info("notify: preference added", "chat_id", cb.ChatID, "type", sub.Type, "community", sub.Community, "province", sub.Province)
		b.edit(ctx, cb, "¡Gracias! Tus preferencias han sido guardadas.", nil)
	}
}

func (b *Bot) startDelete(ctx context.Context, chatID int64) {
	subs, err := b.prefs.ForChat(chatID)
	if err != nil {
		appLog.Error("notify: read preferences failed", err, "chat_id", chatID)
		b.reply(ctx, chatID, "No se pudieron leer tus preferencias. Inténtalo más tarde.")
		return
	}
	if len(subs) == 0 {
		b.reply(ctx, chatID, "No tienes preferencias guardadas.")
		return
	}
	kb := make(Keyboard, 0, len(subs))
	for i, s := range subs {
		kb = append(kb, []Button{{Text: label(s), Data: fmt.Sprintf("d:%d", i)}})
	}
	b.keyboard(ctx, chatID, "¿Qué preferencia deseas eliminar?", kb)
}

func (b *Bot) describe(chatID int64) string {
	subs, err := b.prefs.ForChat(chatID)
	if err != nil {
		appLog.Error("notify: read preferences failed", err, "chat_id", chatID)
		return "No se pudieron leer tus preferencias. Inténtalo más tarde."
	}
	if len(subs) == 0 {
		return "No tienes preferencias guardadas. Usa /start para añadir una."
	}
	var sb strings.Builder
	sb.WriteString("Tus preferencias:\n")
	sb.WriteString(strings.Repeat("-", 20) + "\n")
	for _, s := range subs {
		fmt.Fprintf(&sb, "Tipo de evento: %s\nComunidad: %s\nProvincia: %s\n\n", s.Type, s.Community, s.Province)
	}
	return sb.String()
}

func (b *Bot) invalid(ctx context.Context, cb *Callback) {
	appLog.Warn("notify: unexpected callback data", nil, "chat_id", cb.ChatID, "data", cb.Data)
	b.edit(ctx, cb, "Opción no válida. Usa /start para empezar de nuevo.", nil)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.msgr.Send(ctx, chatID, text); err != nil {
		appLog.Error("notify: reply failed", err, "chat_id", chatID)
	}
}

func (b *Bot) keyboard(ctx context.Context, chatID int64, text string, kb Keyboard) {
	if err := b.msgr.SendKeyboard(ctx, chatID, text, kb); err != nil {
		appLog.Error("notify: send keyboard failed", err, "chat_id", chatID)
	}
}

func (b *Bot) edit(ctx context.Context, cb *Callback, text string, kb Keyboard) {
	if err := b.msgr.Edit(ctx, cb.ChatID, cb.MessageID, text, kb); err != nil {
		appLog.Error("notify: edit message failed", err, "chat_id", cb.ChatID)
	}
}

// typeOptions is the type menu; the first entry is the wildcard.
func typeOptions() []string {
	return append([]string{AnyType}, model.EventTypes...)
}

func typeAt(i int) (string, bool) {
	opts := typeOptions()
	if i >= len(opts) {
		return "", false
	}
	return opts[i], true
}

func communityAt(i int) (string, bool) {
	if i == 0 {
		return AnyRegion, true
	}
	cs := geo.Communities()
	if i > len(cs) {
		return "", false
	}
	return cs[i-1], true
}

func subscriptionAt(chatID int64, ti, ci, pi int) (config.Subscription, bool) {
	t, ok := typeAt(ti)
	if !ok {
		return config.Subscription{}, false
	}
	community, ok := communityAt(ci)
	if !ok {
		return config.Subscription{}, false
	}
	province := AnyRegion
	if pi > 0 {
		ps := geo.ProvincesIn(community)
		if ci == 0 || pi > len(ps) {
			return config.Subscription{}, false
		}
		province = ps[pi-1]
	}
	return config.Subscription{ChatID: chatID, Type: t, Community: community, Province: province}, true
}

func typeKeyboard() Keyboard {
	opts := typeOptions()
	kb := make(Keyboard, 0, len(opts))
	for i, t := range opts {
		kb = append(kb, []Button{{Text: display(t), Data: fmt.Sprintf("t:%d", i)}})
	}
	return kb
}

func communityKeyboard(ti int) Keyboard {
	cs := geo.Communities()
	kb := Keyboard{{{Text: "Todas", Data: fmt.Sprintf("c:%d:0", ti)}}}
	for i, c := range cs {
		kb = append(kb, []Button{{Text: c, Data: fmt.Sprintf("c:%d:%d", ti, i+1)}})
	}
	return kb
}

func provinceKeyboard(ti, ci int, community string) Keyboard {
	kb := Keyboard{{{Text: "Todas", Data: fmt.Sprintf("p:%d:%d:0", ti, ci)}}}
	for i, p := range geo.ProvincesIn(community) {
		kb = append(kb, []Button{{Text: p, Data: fmt.Sprintf("p:%d:%d:%d", ti, ci, i+1)}})
	}
	return kb
}

func label(s config.Subscription) string {
	return display(s.Type) + " / " + display(s.Community) + " / " + display(s.Province)
}

// display capitalises the wildcards for buttons.
func display(v string) string {
	switch {
	case strings.EqualFold(v, AnyType):
		return "Todos"
	case strings.EqualFold(v, AnyRegion):
		return "Todas"
	}
	return v
}
