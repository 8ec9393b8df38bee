package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nerdneilsfield/storyboarder/internal/storage"
	"github.com/nerdneilsfield/storyboarder/internal/storyboard"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes.
const (
	cbRegen       = "regen:"
	cbRegenAll    = "regenall"
	cbRetryFailed = "retryfailed"
	cbSave        = "save:"
	cbDownload    = "dl"
	cbGalleryOpen = "gal:open:"
	cbGalleryShut = "gal:close"
	cbDelete      = "del:"
	cbDelConfirm  = "delconfirm:"
	cbDelCancel   = "delcancel:"
	cbLang        = "lang:"
	cbNoop        = "noop"

	maxRefLen         = 48
	maxGalleryButtons = 20
)

// sceneRef encodes a scene id for callback data; ids too long for Telegram are sent by position.
func sceneRef(store *storyboard.Store, id string) string {
	if len(id) <= maxRefLen {
		return id
	}
	for i, sid := range store.IDs() {
		if sid == id {
			return "#" + strconv.Itoa(i)
		}
	}
	return id
}

func resolveSceneRef(store *storyboard.Store, ref string) string {
	if !strings.HasPrefix(ref, "#") {
		return ref
	}
	i, err := strconv.Atoi(ref[1:])
	ids := store.IDs()
	if err != nil || i < 0 || i >= len(ids) {
		return ref
	}
	return ids[i]
}

func panelKeyboard(sess *Session, sc storyboard.Scene, lang *string, deps BotDeps) tgbotapi.InlineKeyboardMarkup {
	ref := sceneRef(sess.Store, sc.ID)
	regen := tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "button_regenerate"), cbRegen+ref)
	if sc.Status == storyboard.StatusFailed && !sc.HasImage() {
		regen = tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "button_retry"), cbRegen+ref)
	}
	row := []tgbotapi.InlineKeyboardButton{regen}

	if sc.HasImage() {
		var label string
		switch sess.Saves.Status(sc.ID).State {
		case storyboard.SaveSaving:
			label = deps.I18n.T(lang, "button_saving")
		case storyboard.SaveSaved:
			label = deps.I18n.T(lang, "button_saved")
		case storyboard.SaveError:
			label = deps.I18n.T(lang, "button_save_failed")
		default:
			label = deps.I18n.T(lang, "button_save")
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cbSave+ref))
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(row...))
}

// jobKeyboard is attached to the summary after a render run.
func jobKeyboard(snapshot []storyboard.Scene, lang *string, deps BotDeps) *tgbotapi.InlineKeyboardMarkup {
	var failed, images int
	for _, sc := range snapshot {
		if sc.Status == storyboard.StatusFailed {
			failed++
		}
		if sc.HasImage() {
			images++
		}
	}

	var row []tgbotapi.InlineKeyboardButton
	if failed > 0 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "button_retry_failed", "count", failed), cbRetryFailed))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "button_regenerate_all"), cbRegenAll))
	rows := [][]tgbotapi.InlineKeyboardButton{row}
	if images > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "button_download_all"), cbDownload),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func galleryKeyboard(images []storage.SavedImage, lang *string, deps BotDeps) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, img := range images {
		if i == maxGalleryButtons {
			break
		}
		label := fmt.Sprintf("%d. %s", i+1, truncate(img.Caption, 40))
		if strings.TrimSpace(img.Caption) == "" {
			label = fmt.Sprintf("%d. %s", i+1, img.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbGalleryOpen+img.ID),
		))
	}
	if len(rows) == 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "gallery_empty_button"), cbNoop),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func previewKeyboard(id string, lang *string, deps BotDeps) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "button_delete"), cbDelete+id),
		tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "button_close"), cbGalleryShut),
	))
}

func deleteConfirmKeyboard(id string, lang *string, deps BotDeps) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "button_delete_confirm"), cbDelConfirm+id),
		tgbotapi.NewInlineKeyboardButtonData(deps.I18n.T(lang, "button_cancel"), cbDelCancel+id),
	))
}

func languageKeyboard(lang *string, deps BotDeps) tgbotapi.InlineKeyboardMarkup {
	current := deps.I18n.DefaultLanguage()
	if lang != nil {
		current = *lang
	}
	var row []tgbotapi.InlineKeyboardButton
	for _, code := range deps.I18n.Languages() {
		name, _ := deps.I18n.LanguageName(code)
		if code == current {
			name = deps.I18n.T(lang, "button_checkmark") + " " + name
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(name, cbLang+code))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func buyKeyboard(url string, lang *string, deps BotDeps) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL(deps.I18n.T(lang, "button_checkout"), url),
	))
}
