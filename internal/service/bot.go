package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"telegram-secret-santa/internal/domain"
	"telegram-secret-santa/internal/draw"
	"telegram-secret-santa/internal/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"
)

var markdownEscaper = strings.NewReplacer(
	"\\", "\\\\", "_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]",
	"(", "\\(", ")", "\\)", "~", "\\~", "`", "\\`", ">", "\\>",
	"#", "\\#", "+", "\\+", "-", "\\-", "=", "\\=", "|", "\\|",
	"{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

// BotAPI is the part of *tgbotapi.BotAPI the bot uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
	GetChatMembersCount(config tgbotapi.ChatMemberCountConfig) (int, error)
}

type SecretSantaBot struct {
	API    BotAPI
	Game   *Game
	Admins map[string]bool
	log    *logger.Logger
}

func NewSecretSantaBot(api BotAPI, game *Game, admins []string, log *logger.Logger) *SecretSantaBot {
	adminMap := make(map[string]bool, len(admins))
	for _, admin := range admins {
		adminMap[strings.ToLower(strings.TrimPrefix(admin, "@"))] = true
	}
	return &SecretSantaBot{
		API:    api,
		Game:   game,
		Admins: adminMap,
		log:    log.With("component", "bot"),
	}
}

func (s *SecretSantaBot) IsAdmin(username string) bool {
	if username == "" {
		return false
	}
	return s.Admins[strings.ToLower(strings.TrimPrefix(username, "@"))]
}

// Notify sends a private message; it makes the bot the game's Notifier.
func (s *SecretSantaBot) Notify(_ context.Context, userID int64, text string) error {
	_, err := s.API.Send(tgbotapi.NewMessage(userID, text))
	if err != nil {
		s.log.Warn("failed to send private message", "chat_id", userID, "error", err)
	}
	return err
}

func participantFromUser(u *tgbotapi.User) *domain.Participant {
	fullName := u.FirstName
	if u.LastName != "" {
		fullName += " " + u.LastName
	}
	return &domain.Participant{UserID: u.ID, Username: u.UserName, FullName: fullName}
}

func isGroup(msg *tgbotapi.Message) bool {
	return msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
}

func (s *SecretSantaBot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.From != nil && msg.From.ID != 0 {
		if err := s.Game.RememberUser(ctx, participantFromUser(msg.From)); err != nil {
			s.log.Warn("failed to remember user", "user_id", msg.From.ID, "error", err)
		}
	}

	switch {
	case msg.IsCommand() && msg.From != nil:
		s.HandleCommand(ctx, msg)
	case msg.ForwardFrom != nil:
		s.HandleForwardedMessage(ctx, msg)
	}
}

func (s *SecretSantaBot) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := strings.ToLower(msg.Command())
	s.log.Debug("command received", "command", command, "user_id", msg.From.ID, "chat_id", msg.Chat.ID)

	switch command {
	case "start", "help":
		s.sendHelpMessage(msg)
	case "add":
		s.handleAddParticipant(ctx, msg)
	case "adduser":
		s.handleAddUserByUsername(ctx, msg)
	case "remove":
		s.handleRemoveParticipant(ctx, msg)
	case "list":
		s.handleListParticipants(ctx, msg)
	case "restrict":
		s.handleAddRestriction(ctx, msg)
	case "unrestrict":
		s.handleRemoveRestriction(ctx, msg)
	case "restrictions":
		s.handleListRestrictions(ctx, msg)
	case "generate":
		s.handleGenerate(ctx, msg)
	case "startgame", "send":
		s.handleSendAssignments(ctx, msg)
	case "reset":
		s.handleReset(ctx, msg)
	case "status":
		s.handleStatus(ctx, msg)
	case "members":
		s.handleMembersCount(ctx, msg)
	case "wish":
		s.handleSetWish(ctx, msg)
	case "mywish":
		s.handleGetWish(ctx, msg)
	case "deletewish":
		s.handleDeleteWish(ctx, msg)
	case "comment":
		s.handleAddComment(ctx, msg)
	case "myreceiver":
		s.handleMyReceiver(ctx, msg)
	default:
		s.sendMessage(msg.Chat.ID, "Неизвестная команда. Используйте /help для списка команд.")
	}
}

const commonHelp = `/add - Добавить себя в игру
/adduser @username - Добавить участника по username (в группах - через упоминание, в личке - перешлите сообщение от пользователя)
/remove - Удалить себя из игры
/list - Список участников
/restrict @username - Добавить ограничение (вы не получите этого человека)
/unrestrict @username - Удалить ограничение (только свои или админ может удалять любые)
/restrictions - Показать ограничения
/status - Показать статус игры
/members - Показать количество участников в группе (только в группах)
/wish текст - Указать или изменить желание
/mywish - Показать ваше текущее желание
/deletewish - Удалить ваше желание
/comment @username текст - Добавить подсказку для того, кто будет дарить этому участнику
/myreceiver - Напомнить, кому вы дарите подарок (после начала игры)`

const adminHelp = `/generate - Сгенерировать распределение
/startgame или /send - Начать игру (отправить всем участникам их получателей)
/unrestrict @кто @кого - Удалить чужое ограничение
/reset - Сбросить игру`

const usageHelp = `1. Участники добавляются через /add
2. Устанавливаются ограничения через /restrict @username
3. Участники указывают желания через /wish
4. Администратор генерирует распределение через /generate
5. Администратор начинает игру через /startgame`

func (s *SecretSantaBot) sendHelpMessage(msg *tgbotapi.Message) {
	var b strings.Builder
	b.WriteString("🎅 *Бот для Тайного Санты*\n\n*Команды:*\n\n")
	b.WriteString(commonHelp)
	if s.IsAdmin(msg.From.UserName) {
		b.WriteString("\n\n*Команды для администраторов:*\n\n")
		b.WriteString(adminHelp)
	}
	b.WriteString("\n\n*Пример использования:*\n")
	b.WriteString(usageHelp)

	response := tgbotapi.NewMessage(msg.Chat.ID, b.String())
	response.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.API.Send(response); err != nil {
		s.log.Warn("failed to send help message", "error", err)
		s.sendMessage(msg.Chat.ID, b.String())
	}
}

func (s *SecretSantaBot) handleAddParticipant(ctx context.Context, msg *tgbotapi.Message) {
	p := participantFromUser(msg.From)
	if err := s.Game.Join(ctx, p); err != nil {
		if errors.Is(err, domain.ErrAlreadyParticipant) {
			s.sendMessage(msg.Chat.ID, "ℹ️ Вы уже участвуете в игре.")
			return
		}
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	s.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Вы добавлены в игру, %s!", p.FullName))
}

func (s *SecretSantaBot) handleAddUserByUsername(ctx context.Context, msg *tgbotapi.Message) {
	username := strings.TrimPrefix(strings.TrimSpace(msg.CommandArguments()), "@")
	if username == "" {
		s.sendMessage(msg.Chat.ID, "❌ Укажите username пользователя. Пример: /adduser @username")
		return
	}

	target := s.resolveUser(ctx, msg, username)
	if target == nil {
		s.log.Info("adduser: user not found", "username", username, "chat_id", msg.Chat.ID)
		if isGroup(msg) {
			s.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ Не удалось найти пользователя @%s в группе.\n\n"+
				"Telegram Bot API не позволяет получить список всех участников группы.\n\n"+
				"Как добавить участника:\n"+
				"1. Начните печатать @%s и выберите пользователя из списка\n"+
				"2. Попросите @%s написать любое сообщение в группе, затем повторите команду\n"+
				"3. Перешлите боту любое сообщение от @%s", username, username, username, username))
		} else {
			s.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ Не удалось найти пользователя @%s.\n\n"+
				"1. Перешлите боту любое сообщение от @%s\n"+
				"2. Или попросите @%s написать боту /add", username, username, username))
		}
		return
	}

	s.addOther(ctx, msg.Chat.ID, target)
}

// resolveUser finds a Telegram user by username: from a text mention in the
// command, from users the bot has already seen, then among group admins.
func (s *SecretSantaBot) resolveUser(ctx context.Context, msg *tgbotapi.Message, username string) *domain.Participant {
	mentions := lo.Filter(msg.Entities, func(e tgbotapi.MessageEntity, _ int) bool {
		return e.Type == "text_mention" && e.User != nil
	})
	if len(mentions) > 0 {
		match, ok := lo.Find(mentions, func(e tgbotapi.MessageEntity) bool {
			return strings.EqualFold(e.User.UserName, username)
		})
		if !ok {
			match = mentions[0]
		}
		return participantFromUser(match.User)
	}

	known, err := s.Game.FindKnownUser(ctx, username)
	if err != nil {
		s.log.Warn("failed to look up known user", "username", username, "error", err)
	}
	if known != nil {
		return known
	}

	if !isGroup(msg) {
		return nil
	}
	admins, err := s.API.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: msg.Chat.ID},
	})
	if err != nil {
		s.log.Warn("failed to get chat administrators", "chat_id", msg.Chat.ID, "error", err)
		return nil
	}
	for _, admin := range admins {
		if admin.User != nil && strings.EqualFold(admin.User.UserName, username) {
			return participantFromUser(admin.User)
		}
	}
	return nil
}

func (s *SecretSantaBot) addOther(ctx context.Context, chatID int64, p *domain.Participant) {
	if err := s.Game.Join(ctx, p); err != nil {
		if errors.Is(err, domain.ErrAlreadyParticipant) {
			s.sendMessage(chatID, fmt.Sprintf("❌ Пользователь %s уже участвует в игре.", p.DisplayName()))
			return
		}
		s.replyError(ctx, chatID, err)
		return
	}
	s.sendMessage(chatID, fmt.Sprintf("✅ Пользователь %s добавлен в игру!", p.DisplayName()))
}

// HandleForwardedMessage registers the author of a forwarded message when
// the forward carries an /adduser command.
func (s *SecretSantaBot) HandleForwardedMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.ToLower(msg.Text + " " + msg.Caption)
	fields := strings.Fields(text)
	idx := lo.IndexOf(fields, "/adduser")
	if idx < 0 {
		return
	}

	username := msg.ForwardFrom.UserName
	if idx+1 < len(fields) {
		username = strings.TrimPrefix(fields[idx+1], "@")
	}
	if username == "" {
		return
	}
	if msg.ForwardFrom.UserName != "" && !strings.EqualFold(msg.ForwardFrom.UserName, username) {
		return
	}

	s.addOther(ctx, msg.Chat.ID, participantFromUser(msg.ForwardFrom))
}

func (s *SecretSantaBot) handleRemoveParticipant(ctx context.Context, msg *tgbotapi.Message) {
	if err := s.Game.Leave(ctx, msg.From.ID); err != nil {
		if errors.Is(err, domain.ErrNotParticipant) {
			s.sendMessage(msg.Chat.ID, "❌ Вы не участвуете в игре.")
			return
		}
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	s.sendMessage(msg.Chat.ID, "✅ Вы удалены из игры.")
}

func (s *SecretSantaBot) handleListParticipants(ctx context.Context, msg *tgbotapi.Message) {
	participants, err := s.Game.Participants(ctx)
	if err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if len(participants) == 0 {
		s.sendMessage(msg.Chat.ID, "📝 Участников пока нет.")
		return
	}

	var md, plain strings.Builder
	md.WriteString("📝 *Участники:*\n\n")
	plain.WriteString("📝 Участники:\n\n")
	for i, p := range participants {
		md.WriteString(fmt.Sprintf("%d\\. %s\n", i+1, escapeMarkdown(p.DisplayName())))
		plain.WriteString(fmt.Sprintf("%d. %s\n", i+1, p.DisplayName()))
	}
	s.sendMarkdown(msg.Chat.ID, md.String(), plain.String())
}

// restrictionTarget parses "/restrict @username" into a participant.
func (s *SecretSantaBot) restrictionTarget(ctx context.Context, msg *tgbotapi.Message, arg, usage string) (*domain.Participant, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		s.sendMessage(msg.Chat.ID, "❌ Укажите username пользователя. Пример: "+usage)
		return nil, false
	}
	target, err := s.Game.FindParticipant(ctx, arg)
	if err != nil {
		if errors.Is(err, domain.ErrNotParticipant) {
			s.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ Пользователь @%s не найден среди участников.", strings.TrimPrefix(arg, "@")))
			return nil, false
		}
		s.replyError(ctx, msg.Chat.ID, err)
		return nil, false
	}
	return target, true
}

func (s *SecretSantaBot) handleAddRestriction(ctx context.Context, msg *tgbotapi.Message) {
	target, ok := s.restrictionTarget(ctx, msg, msg.CommandArguments(), "/restrict @username")
	if !ok {
		return
	}

	err := s.Game.AddRestriction(ctx, msg.From.ID, target.UserID, msg.From.ID)
	switch {
	case err == nil:
		s.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Ограничение добавлено: вы не получите %s", target.DisplayName()))
	case errors.Is(err, domain.ErrRestrictionExists):
		s.sendMessage(msg.Chat.ID, fmt.Sprintf("ℹ️ Ограничение уже существует: вы не получите %s", target.DisplayName()))
	case errors.Is(err, domain.ErrNotParticipant):
		s.sendMessage(msg.Chat.ID, "❌ Сначала добавьте себя в игру через /add")
	default:
		s.replyError(ctx, msg.Chat.ID, err)
	}
}

// handleRemoveRestriction accepts "/unrestrict @b" for the sender's own
// restriction and, for admins, "/unrestrict @a @b".
func (s *SecretSantaBot) handleRemoveRestriction(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	isAdmin := s.IsAdmin(msg.From.UserName)
	usage := "/unrestrict @username"

	userID := msg.From.ID
	if len(args) == 2 {
		if !isAdmin {
			s.sendMessage(msg.Chat.ID, "❌ Вы можете удалить только свои ограничения. Администраторы могут удалять любые ограничения.")
			return
		}
		owner, ok := s.restrictionTarget(ctx, msg, args[0], usage)
		if !ok {
			return
		}
		userID = owner.UserID
		args = args[1:]
	}
	target, ok := s.restrictionTarget(ctx, msg, strings.Join(args, " "), usage)
	if !ok {
		return
	}

	err := s.Game.RemoveRestriction(ctx, userID, target.UserID, msg.From.ID, isAdmin)
	switch {
	case err == nil:
		s.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Ограничение на %s удалено", target.DisplayName()))
	case errors.Is(err, domain.ErrRestrictionNotFound):
		s.sendMessage(msg.Chat.ID, "ℹ️ Такого ограничения нет.")
	default:
		s.replyError(ctx, msg.Chat.ID, err)
	}
}

func (s *SecretSantaBot) handleListRestrictions(ctx context.Context, msg *tgbotapi.Message) {
	isAdmin := s.IsAdmin(msg.From.UserName)
	restrictions, err := s.Game.Restrictions(ctx)
	if err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	participants, err := s.Game.Participants(ctx)
	if err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	byID := lo.KeyBy(participants, func(p *domain.Participant) int64 { return p.UserID })

	if !isAdmin {
		restrictions = lo.Filter(restrictions, func(r domain.Restriction, _ int) bool { return r.UserID == msg.From.ID })
	}
	restrictions = lo.Filter(restrictions, func(r domain.Restriction, _ int) bool {
		return byID[r.UserID] != nil && byID[r.ForbiddenUserID] != nil
	})
	if len(restrictions) == 0 {
		if isAdmin {
			s.sendMessage(msg.Chat.ID, "📋 Ограничений нет.")
		} else {
			s.sendMessage(msg.Chat.ID, "📋 У вас нет ограничений.")
		}
		return
	}

	var md, plain strings.Builder
	md.WriteString("📋 *Ограничения:*\n")
	plain.WriteString("📋 Ограничения:\n")
	var owner int64
	for _, r := range restrictions {
		if r.UserID != owner {
			owner = r.UserID
			who, whoPlain := "*Вы*", "Вы"
			if isAdmin {
				who, whoPlain = "*"+escapeMarkdown(byID[owner].DisplayName())+"*", byID[owner].DisplayName()
			}
			md.WriteString("\n" + who + " не получит:\n")
			plain.WriteString("\n" + whoPlain + " не получит:\n")
		}
		md.WriteString("  \\- " + escapeMarkdown(byID[r.ForbiddenUserID].DisplayName()) + "\n")
		plain.WriteString("  - " + byID[r.ForbiddenUserID].DisplayName() + "\n")
	}
	s.sendMarkdown(msg.Chat.ID, md.String(), plain.String())
}

func (s *SecretSantaBot) requireAdmin(msg *tgbotapi.Message) bool {
	if s.IsAdmin(msg.From.UserName) {
		return true
	}
	s.sendMessage(msg.Chat.ID, "❌ Эта команда доступна только администраторам.")
	return false
}

func (s *SecretSantaBot) handleGenerate(ctx context.Context, msg *tgbotapi.Message) {
	if !s.requireAdmin(msg) {
		return
	}
	if _, err := s.Game.Generate(ctx); err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	s.sendMessage(msg.Chat.ID, "✅ Распределение успешно создано! Используйте /startgame чтобы начать игру и отправить результаты участникам.")
}

func (s *SecretSantaBot) handleSendAssignments(ctx context.Context, msg *tgbotapi.Message) {
	if !s.requireAdmin(msg) {
		return
	}
	report, err := s.Game.Start(ctx, s)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotGenerated):
		s.sendMessage(msg.Chat.ID, "❌ Сначала создайте распределение через /generate")
		return
	case errors.Is(err, domain.ErrGameStarted):
		s.replyError(ctx, msg.Chat.ID, err)
		return
	default:
		s.log.Error("failed to start game", "chat_id", msg.Chat.ID, "error", err)
		s.sendMessage(msg.Chat.ID, "❌ Не удалось начать игру: статус не сохранён, сообщения участникам не отправлены. Попробуйте /startgame ещё раз.")
		return
	}

	result := fmt.Sprintf("✅ Игра начата!\n\n"+
		"Отправлено сообщений: %d\n"+
		"Ошибок: %d", report.Sent, report.Failed)
	if report.Failed > 0 {
		result += "\n\nУчастники без сообщения должны сначала написать боту в личку, затем использовать /myreceiver."
	}
	s.sendMessage(msg.Chat.ID, result)
	if isGroup(msg) {
		s.sendMessage(msg.From.ID, result)
	}
}

func (s *SecretSantaBot) handleReset(ctx context.Context, msg *tgbotapi.Message) {
	if !s.requireAdmin(msg) {
		return
	}
	if err := s.Game.Reset(ctx); err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	s.sendMessage(msg.Chat.ID, "🔄 Игра сброшена. Можно начинать заново!")
}

func yesNo(b bool) string {
	if b {
		return "✅ Да"
	}
	return "❌ Нет"
}

func (s *SecretSantaBot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	report, err := s.Game.Status(ctx)
	if err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	status := report.State.Status
	s.sendMessage(msg.Chat.ID, fmt.Sprintf("📊 Статус игры:\n\n"+
		"Участников: %d\n"+
		"Ограничений: %d\n"+
		"Распределение создано: %s\n"+
		"Результаты отправлены: %s",
		report.Participants,
		report.Restrictions,
		yesNo(status == domain.StatusGenerated || status == domain.StatusStarted),
		yesNo(status == domain.StatusStarted)))
}

func (s *SecretSantaBot) handleMembersCount(ctx context.Context, msg *tgbotapi.Message) {
	if !isGroup(msg) {
		s.sendMessage(msg.Chat.ID, "❌ Эта команда работает только в группах.")
		return
	}
	chat := tgbotapi.ChatConfig{ChatID: msg.Chat.ID}

	var b strings.Builder
	b.WriteString("📊 Информация о группе:\n\n")
	if count, err := s.API.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{ChatConfig: chat}); err != nil {
		s.log.Warn("failed to get member count", "chat_id", msg.Chat.ID, "error", err)
	} else {
		b.WriteString(fmt.Sprintf("Участников в группе: %d\n", count))
	}
	if admins, err := s.API.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{ChatConfig: chat}); err == nil {
		b.WriteString(fmt.Sprintf("Администраторов: %d\n", len(admins)))
	}
	participants, err := s.Game.Participants(ctx)
	if err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	b.WriteString(fmt.Sprintf("Участвует в игре: %d", len(participants)))
	s.sendMessage(msg.Chat.ID, b.String())
}

func (s *SecretSantaBot) handleSetWish(ctx context.Context, msg *tgbotapi.Message) {
	wish := strings.TrimSpace(msg.CommandArguments())
	if wish == "" {
		current, err := s.Game.Wish(ctx, msg.From.ID)
		switch {
		case err != nil:
			s.replyError(ctx, msg.Chat.ID, err)
		case current != "":
			s.sendMessage(msg.Chat.ID, fmt.Sprintf("💝 Ваше текущее желание:\n\n%s\n\nЧтобы изменить, используйте: /wish новое желание", current))
		default:
			s.sendMessage(msg.Chat.ID, "❌ Укажите ваше желание. Пример: /wish Хочу получить книгу")
		}
		return
	}

	if err := s.Game.SetWish(ctx, msg.From.ID, wish); err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	s.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Ваше желание сохранено:\n\n%s\n\nВы можете изменить его в любой момент, используя /wish новое желание", wish))
}

func (s *SecretSantaBot) handleGetWish(ctx context.Context, msg *tgbotapi.Message) {
	wish, err := s.Game.Wish(ctx, msg.From.ID)
	switch {
	case err != nil:
		s.replyError(ctx, msg.Chat.ID, err)
	case wish == "":
		s.sendMessage(msg.Chat.ID, "💝 У вас пока нет сохраненного желания.\n\nИспользуйте /wish ваше желание чтобы добавить его.")
	default:
		s.sendMessage(msg.Chat.ID, fmt.Sprintf("💝 Ваше желание:\n\n%s", wish))
	}
}

func (s *SecretSantaBot) handleDeleteWish(ctx context.Context, msg *tgbotapi.Message) {
	if err := s.Game.DeleteWish(ctx, msg.From.ID); err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	s.sendMessage(msg.Chat.ID, "✅ Ваше желание удалено.")
}

func (s *SecretSantaBot) handleAddComment(ctx context.Context, msg *tgbotapi.Message) {
	parts := strings.Fields(msg.CommandArguments())
	if len(parts) < 2 {
		s.sendMessage(msg.Chat.ID, "❌ Неверный формат. Используйте: /comment @username Текст комментария")
		return
	}
	receiver, ok := s.restrictionTarget(ctx, msg, parts[0], "/comment @username Текст комментария")
	if !ok {
		return
	}
	comment := strings.Join(parts[1:], " ")

	err := s.Game.AddComment(ctx, msg.From.ID, receiver.UserID, comment)
	switch {
	case err == nil:
		s.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Комментарий добавлен для %s!\n\n💬 Ваш комментарий:\n%s", receiver.DisplayName(), comment))
	case errors.Is(err, domain.ErrSelfComment):
		s.sendMessage(msg.Chat.ID, "❌ Нельзя добавить комментарий для самого себя.")
	default:
		s.replyError(ctx, msg.Chat.ID, err)
	}
}

func (s *SecretSantaBot) handleMyReceiver(ctx context.Context, msg *tgbotapi.Message) {
	report, err := s.Game.Status(ctx)
	if err != nil {
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if report.State.Status != domain.StatusStarted {
		s.sendMessage(msg.Chat.ID, "❌ Игра ещё не началась.")
		return
	}
	text, err := s.Game.AssignmentMessage(ctx, msg.From.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotGenerated) {
			s.sendMessage(msg.Chat.ID, "❌ Вы не участвуете в этом распределении.")
			return
		}
		s.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if err := s.Notify(ctx, msg.From.ID, text); err != nil {
		s.sendMessage(msg.Chat.ID, "❌ Не удалось отправить сообщение в личку. Сначала напишите боту /start.")
		return
	}
	if isGroup(msg) {
		s.sendMessage(msg.Chat.ID, "📬 Отправил вам в личку.")
	}
}

// replyError turns a game error into a user-facing message.
func (s *SecretSantaBot) replyError(ctx context.Context, chatID int64, err error) {
	if unsolvable, ok := IsUnsolvable(err); ok {
		s.sendMessage(chatID, s.unsolvableText(ctx, unsolvable))
		return
	}

	var text string
	switch {
	case errors.Is(err, domain.ErrNotParticipant):
		text = "❌ Сначала добавьте себя в игру через /add"
	case errors.Is(err, domain.ErrNotEnoughParticipants):
		text = "❌ Нужно минимум 2 участника для игры."
	case errors.Is(err, domain.ErrGameStarted):
		text = "❌ Игра уже началась. Изменения невозможны до /reset."
	case errors.Is(err, domain.ErrNotRestrictionOwner):
		text = "❌ Вы можете удалить только свои ограничения. Администраторы могут удалять любые ограничения."
	case errors.Is(err, domain.ErrSelfRestriction):
		text = "❌ Нельзя добавить ограничение на самого себя."
	case errors.Is(err, domain.ErrNotGenerated):
		text = "❌ Сначала создайте распределение через /generate"
	default:
		s.log.Error("command failed", "chat_id", chatID, "error", err)
		text = fmt.Sprintf("❌ Ошибка: %v", err)
	}
	s.sendMessage(chatID, text)
}

func (s *SecretSantaBot) unsolvableText(ctx context.Context, u *draw.UnsolvableError) string {
	names := func(ids []int64) string {
		list, err := s.Game.Participants(ctx)
		byID := lo.KeyBy(list, func(p *domain.Participant) int64 { return p.UserID })
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if p, ok := byID[id]; ok && err == nil {
				out = append(out, p.DisplayName())
			} else {
				out = append(out, fmt.Sprintf("ID %d", id))
			}
		}
		return strings.Join(out, ", ")
	}

	var b strings.Builder
	b.WriteString("❌ Невозможно создать распределение с текущими ограничениями.\n\n")
	switch {
	case len(u.NoReceivers) > 0:
		b.WriteString("Не осталось, кому дарить: " + names(u.NoReceivers))
	case len(u.NoGivers) > 0:
		b.WriteString("Никто не может дарить: " + names(u.NoGivers))
	default:
		b.WriteString(fmt.Sprintf("Подарки можно распределить только между %d из %d участников.", u.Matched, u.Participants))
	}
	b.WriteString("\n\nПопробуйте уменьшить количество ограничений или изменить их.")
	return b.String()
}

func (s *SecretSantaBot) sendMessage(chatID int64, text string) {
	if _, err := s.API.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		s.log.Warn("failed to send message", "chat_id", chatID, "error", err)
	}
}

// sendMarkdown sends MarkdownV2 and falls back to plain text when Telegram
// rejects the markup.
func (s *SecretSantaBot) sendMarkdown(chatID int64, md, plain string) {
	response := tgbotapi.NewMessage(chatID, md)
	response.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := s.API.Send(response); err != nil {
		s.log.Warn("markdown rejected, sending plain text", "chat_id", chatID, "error", err)
		s.sendMessage(chatID, plain)
	}
}
