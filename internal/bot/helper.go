package bot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	st "github.com/nerdneilsfield/storyboarder/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Telegram caps captions at 1024 characters and messages at 4096.
const (
	maxCaptionLen = 1000
	maxMessageLen = 4000
)

// getUserLanguagePreference retrieves the user's preferred language code.
// Returns nil if no preference is set or an error occurs, allowing fallback to default.
func getUserLanguagePreference(userID int64, deps BotDeps) *string {
	if deps.DB == nil {
		return nil
	}
	settings, err := st.GetUserSettings(deps.DB, userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			deps.Logger.Error("Failed to get user settings for language preference",
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
		return nil
	}
	if settings.Language == "" {
		return nil
	}
	return &settings.Language
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// firstLine is used as a storyboard title.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), 60)
}

// photoFile picks how Telegram should receive an image: data URLs are uploaded, anything else is fetched by Telegram.
func photoFile(src string) (tgbotapi.RequestFileData, error) {
	if !strings.HasPrefix(src, "data:") {
		return tgbotapi.FileURL(src), nil
	}
	comma := strings.IndexByte(src, ',')
	if comma < 0 || !strings.Contains(src[:comma], ";base64") {
		return nil, fmt.Errorf("unsupported data url")
	}
	raw, err := base64.StdEncoding.DecodeString(src[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	return tgbotapi.FileBytes{Name: "panel.png", Bytes: raw}, nil
}

// downloadFile fetches a Telegram file by id.
func downloadFile(ctx context.Context, fileID string, deps BotDeps) ([]byte, error) {
	fileURL, err := deps.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func sendText(chatID int64, text string, deps BotDeps) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, truncate(text, maxMessageLen))
	sent, err := deps.Bot.Send(msg)
	if err != nil {
		deps.Logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return sent, err
}

func editText(chatID int64, messageID int, text string, deps BotDeps) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncate(text, maxMessageLen))
	if _, err := deps.Bot.Send(edit); err != nil {
		deps.Logger.Warn("Failed to edit message", zap.Int64("chat_id", chatID), zap.Int("message_id", messageID), zap.Error(err))
	}
}

func deleteMessage(chatID int64, messageID int, deps BotDeps) {
	if messageID == 0 {
		return
	}
	if _, err := deps.Bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		deps.Logger.Debug("Failed to delete message", zap.Int64("chat_id", chatID), zap.Int("message_id", messageID), zap.Error(err))
	}
}

func answerCallback(callbackID, text string, deps BotDeps) {
	if _, err := deps.Bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		deps.Logger.Warn("Failed to answer callback query", zap.Error(err))
	}
}
