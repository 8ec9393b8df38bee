package bot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nerdneilsfield/storyboarder/internal/storyboard"
	"go.uber.org/zap"
)

// updateTimeout bounds the work a single update may trigger, including a full render run.
const updateTimeout = 15 * time.Minute

// Helper to send generic error message and log details
func sendGenericError(chatID int64, userID int64, operation string, err error, deps BotDeps) {
	deps.Logger.Error("Operation failed", zap.String("operation", operation), zap.Error(err), zap.Int64("user_id", userID))
	lang := getUserLanguagePreference(userID, deps)
	sendText(chatID, deps.I18n.T(lang, "error_generic"), deps)
}

func HandleUpdate(update tgbotapi.Update, deps BotDeps) {
	defer func() {
		if r := recover(); r != nil {
			errMsg := fmt.Sprintf("%v", r)
			stackTrace := string(debug.Stack())
			deps.Logger.Error("Panic recovered in HandleUpdate", zap.Any("panic_value", errMsg), zap.String("stack", stackTrace))

			var chatID, userID int64
			if update.Message != nil {
				chatID = update.Message.Chat.ID
				userID = update.Message.From.ID
			} else if update.CallbackQuery != nil {
				userID = update.CallbackQuery.From.ID
				if update.CallbackQuery.Message != nil {
					chatID = update.CallbackQuery.Message.Chat.ID
				}
			}
			if chatID == 0 {
				return
			}
			if deps.Authorizer.IsAdmin(userID) {
				detailedMsg := fmt.Sprintf("☢️ PANIC RECOVERED ☢️\nUser: %d\nError: %s\n\nTraceback:\n%s", userID, errMsg, stackTrace)
				sendText(chatID, detailedMsg, deps)
			} else {
				sendText(chatID, deps.I18n.T(getUserLanguagePreference(userID, deps), "error_generic"), deps)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()

	if update.Message != nil && update.Message.From != nil {
		if !deps.Authorizer.IsAllowed(update.Message.From.ID) {
			lang := getUserLanguagePreference(update.Message.From.ID, deps)
			sendText(update.Message.Chat.ID, deps.I18n.T(lang, "unauthorized"), deps)
			return
		}
		HandleMessage(ctx, update.Message, deps)
	} else if update.CallbackQuery != nil {
		if !deps.Authorizer.IsAllowed(update.CallbackQuery.From.ID) {
			lang := getUserLanguagePreference(update.CallbackQuery.From.ID, deps)
			answerCallback(update.CallbackQuery.ID, deps.I18n.T(lang, "unauthorized"), deps)
			return
		}
		HandleCallbackQuery(ctx, update.CallbackQuery, deps)
	}
}

func getSession(userID int64, deps BotDeps) (*Session, error) {
	return deps.StateManager.GetOrCreate(userID, func() (*Session, error) {
		return NewSession(userID, deps)
	})
}

func HandleMessage(ctx context.Context, message *tgbotapi.Message, deps BotDeps) {
	userID := message.From.ID
	chatID := message.Chat.ID
	lang := getUserLanguagePreference(userID, deps)

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			sendText(chatID, deps.I18n.T(lang, "welcome"), deps)
		case "help":
			sendText(chatID, deps.I18n.T(lang, "help"), deps)
		case "balance":
			HandleBalanceCommand(ctx, chatID, userID, deps)
		case "buy":
			HandleBuyCommand(ctx, chatID, userID, deps)
		case "gallery":
			HandleGalleryCommand(ctx, chatID, userID, deps)
		case "character":
			HandleCharacterCommand(chatID, userID, message.CommandArguments(), deps)
		case "lang":
			msg := tgbotapi.NewMessage(chatID, deps.I18n.T(lang, "lang_prompt"))
			msg.ReplyMarkup = languageKeyboard(lang, deps)
			if _, err := deps.Bot.Send(msg); err != nil {
				deps.Logger.Error("Failed to send language keyboard", zap.Error(err), zap.Int64("user_id", userID))
			}
		case "reset":
			deps.StateManager.Clear(userID)
			sendText(chatID, deps.I18n.T(lang, "reset_done"), deps)
		case "cancel":
			if sess, ok := deps.StateManager.Get(userID); ok {
				sess.setPendingDelete("")
				sess.Gallery.Close()
				deleteMessage(chatID, sess.setPreviewMessage(0), deps)
			}
			sendText(chatID, deps.I18n.T(lang, "cancelled"), deps)
		case "version":
			sendText(chatID, deps.I18n.T(lang, "version_info",
				"version", deps.Version,
				"buildDate", deps.BuildDate,
				"goVersion", runtime.Version(),
			), deps)
		default:
			sendText(chatID, deps.I18n.T(lang, "unknown_command"), deps)
		}
		return
	}

	if len(message.Photo) > 0 {
		HandlePhotoMessage(ctx, message, deps)
		return
	}

	if strings.TrimSpace(message.Text) != "" {
		HandleTextMessage(ctx, message, deps)
		return
	}

	deps.Logger.Debug("Ignoring non-command, non-photo, non-text message", zap.Int64("user_id", userID))
}

// HandleTextMessage treats the text as a story: break it down, then render every scene.
func HandleTextMessage(ctx context.Context, message *tgbotapi.Message, deps BotDeps) {
	userID := message.From.ID
	chatID := message.Chat.ID
	lang := getUserLanguagePreference(userID, deps)
	story := strings.TrimSpace(message.Text)

	sess, err := getSession(userID, deps)
	if err != nil {
		sendGenericError(chatID, userID, "create session", err, deps)
		return
	}

	status, _ := sendText(chatID, deps.I18n.T(lang, "story_breaking_down"), deps)
	if _, err := sess.Ledger.Refresh(ctx); err != nil {
		editOrSend(chatID, status.MessageID, ledgerErrorText(err, lang, deps), deps)
		deps.Logger.Warn("Ledger refresh failed before breakdown", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	scenes := sess.Breakdowner.Breakdown(ctx, story)
	if err := sess.StartJob(firstLine(story), scenes); err != nil {
		sendGenericError(chatID, userID, "seed scenes", err, deps)
		return
	}

	if storyboard.IsFallback(scenes) {
		editOrSend(chatID, status.MessageID, deps.I18n.T(lang, "story_breakdown_failed"), deps)
	} else {
		var b strings.Builder
		b.WriteString(deps.I18n.T(lang, "story_scenes_ready", "count", len(scenes)))
		for i, sc := range scenes {
			fmt.Fprintf(&b, "\n%d. %s", i+1, truncate(sc.Description, 120))
		}
		editOrSend(chatID, status.MessageID, b.String(), deps)
	}

	runErr := runRender(ctx, chatID, sess, sess.Renderer.RenderAll, deps)
	sendSummary(chatID, sess, runErr, deps)
}

// HandlePhotoMessage analyzes the photo as the character reference for later renders.
func HandlePhotoMessage(ctx context.Context, message *tgbotapi.Message, deps BotDeps) {
	userID := message.From.ID
	chatID := message.Chat.ID
	lang := getUserLanguagePreference(userID, deps)

	sess, err := getSession(userID, deps)
	if err != nil {
		sendGenericError(chatID, userID, "create session", err, deps)
		return
	}

	photo := message.Photo[len(message.Photo)-1] // Highest resolution
	status, _ := sendText(chatID, deps.I18n.T(lang, "character_analyzing"), deps)

	data, err := downloadFile(ctx, photo.FileID, deps)
	if err != nil {
		deps.Logger.Error("Failed to download character photo", zap.Error(err), zap.Int64("user_id", userID))
		editOrSend(chatID, status.MessageID, deps.I18n.T(lang, "character_failed", "error", err.Error()), deps)
		return
	}

	image := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
	analysis, err := deps.Backend.AnalyzeCharacter(ctx, sess.Token(), image)
	if err != nil {
		deps.Logger.Error("Character analysis failed", zap.Error(err), zap.Int64("user_id", userID))
		editOrSend(chatID, status.MessageID, deps.I18n.T(lang, "character_failed", "error", err.Error()), deps)
		return
	}
	analysis = strings.TrimSpace(analysis)
	if analysis == "" {
		editOrSend(chatID, status.MessageID, deps.I18n.T(lang, "character_failed", "error", "empty analysis"), deps)
		return
	}

	sess.SetCharacter(analysis)
	deps.Logger.Info("Character reference set", zap.Int64("user_id", userID), zap.Int("length", len(analysis)))
	editOrSend(chatID, status.MessageID, deps.I18n.T(lang, "character_set", "character", truncate(analysis, 3000)), deps)
}

func HandleCharacterCommand(chatID, userID int64, args string, deps BotDeps) {
	lang := getUserLanguagePreference(userID, deps)
	sess, err := getSession(userID, deps)
	if err != nil {
		sendGenericError(chatID, userID, "create session", err, deps)
		return
	}
	if strings.EqualFold(strings.TrimSpace(args), "clear") {
		sess.SetCharacter("")
		sendText(chatID, deps.I18n.T(lang, "character_cleared"), deps)
		return
	}
	if c := sess.Character(); c != "" {
		sendText(chatID, deps.I18n.T(lang, "character_current", "character", truncate(c, 3000)), deps)
		return
	}
	sendText(chatID, deps.I18n.T(lang, "character_none"), deps)
}

func HandleBalanceCommand(ctx context.Context, chatID, userID int64, deps BotDeps) {
	lang := getUserLanguagePreference(userID, deps)
	sess, err := getSession(userID, deps)
	if err != nil {
		sendGenericError(chatID, userID, "create session", err, deps)
		return
	}

	profile, err := sess.Ledger.Refresh(ctx)
	if err != nil {
		sendText(chatID, ledgerErrorText(err, lang, deps), deps)
	} else {
		sendText(chatID, deps.I18n.T(lang, "balance_current",
			"points", profile.User.Points,
			"cost", profile.Config.CostPerGeneration,
		), deps)
	}

	if deps.Authorizer.IsAdmin(userID) && deps.FalClient != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			balance, err := deps.FalClient.AccountBalance(ctx)
			if err != nil {
				deps.Logger.Error("Failed to get fal account balance", zap.Error(err), zap.Int64("user_id", userID))
				sendText(chatID, deps.I18n.T(lang, "balance_admin_failed", "error", err.Error()), deps)
				return
			}
			sendText(chatID, deps.I18n.T(lang, "balance_admin", "balance", fmt.Sprintf("%.2f", balance)), deps)
		}()
	}
}

func HandleBuyCommand(ctx context.Context, chatID, userID int64, deps BotDeps) {
	lang := getUserLanguagePreference(userID, deps)
	sess, err := getSession(userID, deps)
	if err != nil {
		sendGenericError(chatID, userID, "create session", err, deps)
		return
	}
	url, err := sess.Ledger.Checkout(ctx)
	if err != nil {
		deps.Logger.Warn("Checkout failed", zap.Int64("user_id", userID), zap.Error(err))
		sendText(chatID, deps.I18n.T(lang, "buy_failed", "error", err.Error()), deps)
		return
	}
	msg := tgbotapi.NewMessage(chatID, deps.I18n.T(lang, "buy_prompt", "points", sess.Ledger.Pricing().PointsPerPurchase))
	msg.ReplyMarkup = buyKeyboard(url, lang, deps)
	if _, err := deps.Bot.Send(msg); err != nil {
		deps.Logger.Error("Failed to send checkout link", zap.Error(err), zap.Int64("user_id", userID))
	}
}

func HandleGalleryCommand(ctx context.Context, chatID, userID int64, deps BotDeps) {
	lang := getUserLanguagePreference(userID, deps)
	sess, err := getSession(userID, deps)
	if err != nil {
		sendGenericError(chatID, userID, "create session", err, deps)
		return
	}
	images, err := sess.Gallery.Refresh(ctx)
	if err != nil {
		deps.Logger.Error("Failed to load gallery", zap.Int64("user_id", userID), zap.Error(err))
		sendText(chatID, deps.I18n.T(lang, "gallery_failed"), deps)
		return
	}
	msg := tgbotapi.NewMessage(chatID, deps.I18n.T(lang, "gallery_title", "count", len(images)))
	msg.ReplyMarkup = galleryKeyboard(images, lang, deps)
	if _, err := deps.Bot.Send(msg); err != nil {
		deps.Logger.Error("Failed to send gallery", zap.Error(err), zap.Int64("user_id", userID))
	}
}

// runRender drives one render run and posts each panel as soon as it finishes.
// Updates dropped by the subscription are caught by a final pass over the snapshot.
func runRender(ctx context.Context, chatID int64, sess *Session, run func(context.Context) error, deps BotDeps) error {
	lang := getUserLanguagePreference(sess.UserID, deps)
	updates, stop := sess.Store.Subscribe(sess.Store.Len()*2 + 8)

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	var runErr error
wait:
	for {
		select {
		case sc := <-updates:
			if sc.Status.Finished() {
				deliverPanel(chatID, sess, sc, lang, deps)
			}
		case runErr = <-done:
			break wait
		}
	}
	stop()
	for sc := range updates {
		if sc.Status.Finished() {
			deliverPanel(chatID, sess, sc, lang, deps)
		}
	}
	for _, sc := range sess.Store.Snapshot() {
		if sc.Status.Finished() {
			deliverPanel(chatID, sess, sc, lang, deps)
		}
	}
	return runErr
}

// deliverPanel shows a finished scene, replacing the message that showed its previous outcome.
func deliverPanel(chatID int64, sess *Session, sc storyboard.Scene, lang *string, deps BotDeps) {
	if !sess.markDelivered(sc) {
		return
	}
	caption := panelCaption(sess, sc, lang, deps)
	kb := panelKeyboard(sess, sc, lang, deps)

	var sent tgbotapi.Message
	var err error
	if sc.HasImage() {
		var file tgbotapi.RequestFileData
		if file, err = photoFile(sc.ImageURL); err == nil {
			photo := tgbotapi.NewPhoto(chatID, file)
			photo.Caption = truncate(caption, maxCaptionLen)
			photo.ReplyMarkup = kb
			sent, err = deps.Bot.Send(photo)
		}
		if err != nil {
			deps.Logger.Warn("Failed to send panel photo, falling back to text", zap.String("scene_id", sc.ID), zap.Error(err))
		}
	}
	if !sc.HasImage() || err != nil {
		msg := tgbotapi.NewMessage(chatID, truncate(caption, maxMessageLen))
		msg.ReplyMarkup = kb
		if sent, err = deps.Bot.Send(msg); err != nil {
			deps.Logger.Error("Failed to send panel", zap.String("scene_id", sc.ID), zap.Error(err))
			return
		}
	}
	deleteMessage(chatID, sess.swapPanel(sc.ID, sent.MessageID), deps)
}

func panelCaption(sess *Session, sc storyboard.Scene, lang *string, deps BotDeps) string {
	ids := sess.Store.IDs()
	index := 0
	for i, id := range ids {
		if id == sc.ID {
			index = i + 1
			break
		}
	}

	var b strings.Builder
	b.WriteString(deps.I18n.T(lang, "panel_header", "index", index, "total", len(ids)))
	b.WriteString("\n")
	b.WriteString(truncate(sc.Description, 700))
	if sc.Status == storyboard.StatusFailed {
		b.WriteString("\n\n")
		b.WriteString(failureText(sc.ErrorKind, sc.Error, lang, deps))
		if sc.Stale {
			b.WriteString("\n")
			b.WriteString(deps.I18n.T(lang, "panel_stale"))
		}
	}
	return b.String()
}

func failureText(kind storyboard.FailureKind, msg string, lang *string, deps BotDeps) string {
	switch kind {
	case storyboard.FailureAuth:
		return deps.I18n.T(lang, "panel_failed_auth")
	case storyboard.FailureCredits:
		return deps.I18n.T(lang, "panel_failed_credits")
	case storyboard.FailureLedger:
		return deps.I18n.T(lang, "panel_failed_ledger", "error", truncate(msg, 200))
	default:
		return deps.I18n.T(lang, "panel_failed_render", "error", truncate(msg, 200))
	}
}

func ledgerErrorText(err error, lang *string, deps BotDeps) string {
	switch {
	case errors.Is(err, storyboard.ErrAuthRequired):
		return deps.I18n.T(lang, "error_auth")
	case errors.Is(err, storyboard.ErrInsufficientCredits):
		return deps.I18n.T(lang, "panel_failed_credits")
	default:
		return deps.I18n.T(lang, "error_backend", "error", err.Error())
	}
}

// sendSummary reports the outcome of a render run with the follow-up actions.
func sendSummary(chatID int64, sess *Session, runErr error, deps BotDeps) {
	lang := getUserLanguagePreference(sess.UserID, deps)
	snapshot := sess.Store.Snapshot()

	var succeeded, failed int
	needCredits := false
	for _, sc := range snapshot {
		switch sc.Status {
		case storyboard.StatusSucceeded:
			succeeded++
		case storyboard.StatusFailed:
			failed++
			needCredits = needCredits || sc.ErrorKind == storyboard.FailureCredits
		}
	}

	var b strings.Builder
	b.WriteString(deps.I18n.T(lang, "render_summary", "succeeded", succeeded, "failed", failed))
	if points, ok := sess.Ledger.Points(); ok {
		b.WriteString("\n")
		b.WriteString(deps.I18n.T(lang, "render_points_left", "points", points))
	}
	if needCredits {
		b.WriteString("\n")
		b.WriteString(deps.I18n.T(lang, "render_need_credits"))
	}
	if errors.Is(runErr, context.DeadlineExceeded) {
		b.WriteString("\n")
		b.WriteString(deps.I18n.T(lang, "render_timeout"))
	}

	msg := tgbotapi.NewMessage(chatID, b.String())
	msg.ReplyMarkup = jobKeyboard(snapshot, lang, deps)
	if _, err := deps.Bot.Send(msg); err != nil {
		deps.Logger.Error("Failed to send render summary", zap.Error(err), zap.Int64("user_id", sess.UserID))
	}
}

func editOrSend(chatID int64, messageID int, text string, deps BotDeps) {
	if messageID != 0 {
		editText(chatID, messageID, text, deps)
		return
	}
	sendText(chatID, text, deps)
}
