package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	st "github.com/nerdneilsfield/storyboarder/internal/storage"
	"github.com/nerdneilsfield/storyboarder/internal/storyboard"
	"go.uber.org/zap"
)

// Telegram accepts at most ten items per media group.
const maxMediaGroup = 10

func HandleCallbackQuery(ctx context.Context, callbackQuery *tgbotapi.CallbackQuery, deps BotDeps) {
	userID := callbackQuery.From.ID
	lang := getUserLanguagePreference(userID, deps)
	if callbackQuery.Message == nil {
		deps.Logger.Error("Callback query message is nil", zap.Int64("user_id", userID), zap.String("data", callbackQuery.Data))
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "error_generic"), deps)
		return
	}
	chatID := callbackQuery.Message.Chat.ID
	messageID := callbackQuery.Message.MessageID
	data := callbackQuery.Data

	deps.Logger.Info("Callback received", zap.Int64("user_id", userID), zap.String("data", data), zap.Int64("chat_id", chatID), zap.Int("message_id", messageID))

	if strings.HasPrefix(data, cbLang) {
		HandleLanguageCallback(callbackQuery, strings.TrimPrefix(data, cbLang), deps)
		return
	}
	if data == cbNoop {
		answerCallback(callbackQuery.ID, "", deps)
		return
	}

	sess, err := getSession(userID, deps)
	if err != nil {
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "error_generic"), deps)
		sendGenericError(chatID, userID, "create session", err, deps)
		return
	}

	switch {
	case strings.HasPrefix(data, cbRegen):
		id := resolveSceneRef(sess.Store, strings.TrimPrefix(data, cbRegen))
		if _, err := sess.Store.Get(id); err != nil {
			answerCallback(callbackQuery.ID, deps.I18n.T(lang, "scene_expired"), deps)
			return
		}
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "regenerating"), deps)
		runRender(ctx, chatID, sess, func(ctx context.Context) error {
			return sess.Renderer.RenderScene(ctx, id)
		}, deps)

	case data == cbRegenAll:
		if sess.Store.Len() == 0 {
			answerCallback(callbackQuery.ID, deps.I18n.T(lang, "scene_expired"), deps)
			return
		}
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "regenerating"), deps)
		err := runRender(ctx, chatID, sess, sess.Renderer.RenderAll, deps)
		sendSummary(chatID, sess, err, deps)

	case data == cbRetryFailed:
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "regenerating"), deps)
		err := runRender(ctx, chatID, sess, sess.Renderer.RenderFailed, deps)
		sendSummary(chatID, sess, err, deps)

	case strings.HasPrefix(data, cbSave):
		id := resolveSceneRef(sess.Store, strings.TrimPrefix(data, cbSave))
		HandleSaveCallback(ctx, callbackQuery, sess, id, deps)

	case data == cbDownload:
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "download_preparing"), deps)
		HandleDownload(ctx, chatID, sess, deps)

	case strings.HasPrefix(data, cbGalleryOpen):
		HandleGalleryOpen(callbackQuery, sess, strings.TrimPrefix(data, cbGalleryOpen), deps)

	case data == cbGalleryShut:
		sess.Gallery.Close()
		sess.setPendingDelete("")
		answerCallback(callbackQuery.ID, "", deps)
		if sess.setPreviewMessage(0) == messageID {
			deleteMessage(chatID, messageID, deps)
		}

	case strings.HasPrefix(data, cbDelete):
		id := strings.TrimPrefix(data, cbDelete)
		sess.setPendingDelete(id)
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "delete_confirm_prompt"), deps)
		setMarkup(chatID, messageID, deleteConfirmKeyboard(id, lang, deps), deps)

	case strings.HasPrefix(data, cbDelConfirm):
		HandleDeleteConfirm(ctx, callbackQuery, sess, strings.TrimPrefix(data, cbDelConfirm), deps)

	case strings.HasPrefix(data, cbDelCancel):
		id := strings.TrimPrefix(data, cbDelCancel)
		sess.setPendingDelete("")
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "cancelled"), deps)
		setMarkup(chatID, messageID, previewKeyboard(id, lang, deps), deps)

	default:
		deps.Logger.Warn("Unhandled callback data", zap.String("data", data), zap.Int64("user_id", userID))
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "unknown_action"), deps)
	}
}

// HandleSaveCallback persists the panel and reflects the save state on its buttons.
// A failed save flips back to the plain save button once the tracker clears the error.
func HandleSaveCallback(ctx context.Context, callbackQuery *tgbotapi.CallbackQuery, sess *Session, sceneID string, deps BotDeps) {
	userID := callbackQuery.From.ID
	chatID := callbackQuery.Message.Chat.ID
	lang := getUserLanguagePreference(userID, deps)

	sc, err := sess.Store.Get(sceneID)
	if err != nil {
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "scene_expired"), deps)
		return
	}

	rec, err := sess.Saves.Save(ctx, sc, sess.Subject)
	refresh := func() {
		cur, err := sess.Store.Get(sceneID)
		if err != nil {
			return
		}
		if msgID := sess.panelMessage(sceneID); msgID != 0 {
			setMarkup(chatID, msgID, panelKeyboard(sess, cur, lang, deps), deps)
		}
	}

	if err != nil {
		deps.Logger.Warn("Save failed", zap.Int64("user_id", userID), zap.String("scene_id", sceneID), zap.Error(err))
		answerCallback(callbackQuery.ID, saveErrorText(err, lang, deps), deps)
		refresh()
		clearAfter := deps.Config.Generation.SaveErrorClear()
		time.AfterFunc(clearAfter+100*time.Millisecond, refresh)
		return
	}
	deps.Logger.Info("Panel saved to gallery", zap.Int64("user_id", userID), zap.String("record_id", rec.ID))
	answerCallback(callbackQuery.ID, deps.I18n.T(lang, "save_done"), deps)
	refresh()
}

func saveErrorText(err error, lang *string, deps BotDeps) string {
	var ue *storyboard.UploadError
	var we *storyboard.WriteError
	switch {
	case errors.Is(err, storyboard.ErrNoImage):
		return deps.I18n.T(lang, "save_no_image")
	case errors.As(err, &ue):
		return deps.I18n.T(lang, "save_failed_upload")
	case errors.As(err, &we):
		return deps.I18n.T(lang, "save_failed_write")
	default:
		return deps.I18n.T(lang, "error_generic")
	}
}

// HandleDownload exports the current storyboard and sends the panels plus the manifest.
func HandleDownload(ctx context.Context, chatID int64, sess *Session, deps BotDeps) {
	lang := getUserLanguagePreference(sess.UserID, deps)
	dir, err := os.MkdirTemp("", "storyboard-*")
	if err != nil {
		sendGenericError(chatID, sess.UserID, "export temp dir", err, deps)
		return
	}
	defer os.RemoveAll(dir)

	manifest, err := deps.Gateway.Export(ctx, sess.Title(), sess.Store.Snapshot(), dir)
	if err != nil {
		deps.Logger.Error("Export failed", zap.Int64("user_id", sess.UserID), zap.Error(err))
		sendText(chatID, deps.I18n.T(lang, "download_failed", "error", err.Error()), deps)
		return
	}

	var media []interface{}
	flush := func() {
		if len(media) == 0 {
			return
		}
		if _, err := deps.Bot.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media)); err != nil {
			deps.Logger.Error("Failed to send panel album", zap.Error(err), zap.Int64("user_id", sess.UserID))
		}
		media = nil
	}
	for _, p := range manifest.Panels {
		if p.File == "" {
			continue
		}
		item := tgbotapi.NewInputMediaPhoto(tgbotapi.FilePath(filepath.Join(dir, p.File)))
		item.Caption = truncate(p.Description, maxCaptionLen)
		media = append(media, item)
		if len(media) == maxMediaGroup {
			flush()
		}
	}
	flush()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(filepath.Join(dir, "storyboard.yaml")))
	doc.Caption = deps.I18n.T(lang, "download_manifest")
	if _, err := deps.Bot.Send(doc); err != nil {
		deps.Logger.Error("Failed to send manifest", zap.Error(err), zap.Int64("user_id", sess.UserID))
	}
}

func HandleGalleryOpen(callbackQuery *tgbotapi.CallbackQuery, sess *Session, id string, deps BotDeps) {
	chatID := callbackQuery.Message.Chat.ID
	lang := getUserLanguagePreference(callbackQuery.From.ID, deps)

	img, ok := sess.Gallery.Open(id)
	if !ok {
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "gallery_item_missing"), deps)
		return
	}
	answerCallback(callbackQuery.ID, "", deps)

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(img.ImageURL))
	photo.Caption = truncate(galleryCaption(img, lang, deps), maxCaptionLen)
	photo.ReplyMarkup = previewKeyboard(img.ID, lang, deps)
	sent, err := deps.Bot.Send(photo)
	if err != nil {
		deps.Logger.Warn("Failed to send gallery preview photo", zap.String("record_id", img.ID), zap.Error(err))
		msg := tgbotapi.NewMessage(chatID, galleryCaption(img, lang, deps)+"\n"+img.ImageURL)
		msg.ReplyMarkup = previewKeyboard(img.ID, lang, deps)
		if sent, err = deps.Bot.Send(msg); err != nil {
			deps.Logger.Error("Failed to send gallery preview", zap.Error(err))
			return
		}
	}
	deleteMessage(chatID, sess.setPreviewMessage(sent.MessageID), deps)
}

func galleryCaption(img st.SavedImage, lang *string, deps BotDeps) string {
	return deps.I18n.T(lang, "gallery_caption",
		"caption", truncate(img.Caption, 800),
		"savedAt", img.CreatedAt.Local().Format("2006-01-02 15:04"),
	)
}

// HandleDeleteConfirm deletes a saved image. Only the id that was asked about can be confirmed.
func HandleDeleteConfirm(ctx context.Context, callbackQuery *tgbotapi.CallbackQuery, sess *Session, id string, deps BotDeps) {
	userID := callbackQuery.From.ID
	chatID := callbackQuery.Message.Chat.ID
	messageID := callbackQuery.Message.MessageID
	lang := getUserLanguagePreference(userID, deps)

	if !sess.takePendingDelete(id) {
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "delete_expired"), deps)
		setMarkup(chatID, messageID, previewKeyboard(id, lang, deps), deps)
		return
	}
	if err := sess.Gallery.Delete(ctx, id); err != nil {
		deps.Logger.Warn("Delete failed", zap.Int64("user_id", userID), zap.String("record_id", id), zap.Error(err))
		answerCallback(callbackQuery.ID, deps.I18n.T(lang, "delete_failed"), deps)
		setMarkup(chatID, messageID, previewKeyboard(id, lang, deps), deps)
		return
	}

	answerCallback(callbackQuery.ID, deps.I18n.T(lang, "delete_done"), deps)
	if _, open := sess.Gallery.Preview(); !open {
		sess.setPreviewMessage(0)
	}
	deleteMessage(chatID, messageID, deps)
}

func HandleLanguageCallback(callbackQuery *tgbotapi.CallbackQuery, code string, deps BotDeps) {
	userID := callbackQuery.From.ID
	chatID := callbackQuery.Message.Chat.ID
	messageID := callbackQuery.Message.MessageID

	if _, ok := deps.I18n.LanguageName(code); !ok {
		answerCallback(callbackQuery.ID, deps.I18n.T(getUserLanguagePreference(userID, deps), "unknown_action"), deps)
		return
	}
	if deps.DB == nil {
		answerCallback(callbackQuery.ID, deps.I18n.T(&code, "error_generic"), deps)
		return
	}
	if err := st.SetUserLanguage(deps.DB, userID, code); err != nil {
		answerCallback(callbackQuery.ID, deps.I18n.T(getUserLanguagePreference(userID, deps), "error_generic"), deps)
		return
	}
	name, _ := deps.I18n.LanguageName(code)
	answerCallback(callbackQuery.ID, "", deps)
	editText(chatID, messageID, deps.I18n.T(&code, "lang_set", "language", name), deps)
}

func setMarkup(chatID int64, messageID int, kb tgbotapi.InlineKeyboardMarkup, deps BotDeps) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, kb)
	if _, err := deps.Bot.Send(edit); err != nil {
		deps.Logger.Debug("Failed to update keyboard", zap.Int64("chat_id", chatID), zap.Int("message_id", messageID), zap.Error(err))
	}
}
