package i18n

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

//go:embed all:locales
var localeFS embed.FS

// languageNameKey is the message every locale file carries with its own display name.
const languageNameKey = "language_name"

// Manager 管理 i18n Bundle 以及每种语言的 Localizer
type Manager struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	logger          *zap.Logger
	localizers      map[string]*i18n.Localizer
	names           map[string]string // "en" -> "English"
}

// NewManager 从内嵌的 locales/ 目录加载 active.<lang>.toml 文件
func NewManager(defaultLang string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("invalid default language tag '%s': %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	m := &Manager{
		bundle:          bundle,
		defaultLanguage: defaultLang,
		logger:          logger.Named("i18n"),
		localizers:      make(map[string]*i18n.Localizer),
		names:           make(map[string]string),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	if _, ok := m.localizers[defaultLang]; !ok {
		return nil, fmt.Errorf("no locale file for default language %q", defaultLang)
	}

	m.logger.Info("i18n Manager initialized",
		zap.String("default_language", defaultLang),
		zap.Strings("languages", m.Languages()),
	)
	return m, nil
}

func (m *Manager) load() error {
	files, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return fmt.Errorf("failed to read embedded locales directory: %w", err)
	}

	for _, file := range files {
		name := file.Name()
		if file.IsDir() || path.Ext(name) != ".toml" {
			continue
		}
		// active.en.toml -> en
		parts := strings.Split(strings.TrimSuffix(name, ".toml"), ".")
		code := parts[len(parts)-1]
		if _, err := language.Parse(code); err != nil {
			m.logger.Warn("Skipping locale file with unknown language code", zap.String("file", name), zap.Error(err))
			continue
		}

		if _, err := m.bundle.LoadMessageFileFS(localeFS, "locales/"+name); err != nil {
			m.logger.Warn("Failed to load translation file", zap.String("file", name), zap.Error(err))
			continue
		}
		loc := i18n.NewLocalizer(m.bundle, code)
		m.localizers[code] = loc

		display, err := loc.Localize(&i18n.LocalizeConfig{MessageID: languageNameKey})
		if err != nil {
			display = code
		}
		m.names[code] = display
		m.logger.Debug("Loaded translation file", zap.String("file", name), zap.String("language", display))
	}

	if len(m.localizers) == 0 {
		return errors.New("no valid translation files loaded")
	}
	return nil
}

// T translates key. args are key/value template pairs; a lone int is the plural count.
// Unknown languages fall back to the default, unknown keys return the key itself.
func (m *Manager) T(lang *string, key string, args ...any) string {
	code := m.defaultLanguage
	if lang != nil && *lang != "" {
		code = *lang
	}
	loc, ok := m.localizers[code]
	if !ok {
		loc = m.localizers[m.defaultLanguage]
	}

	cfg := &i18n.LocalizeConfig{MessageID: key}
	data := make(map[string]any)
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case int:
			if cfg.PluralCount == nil {
				cfg.PluralCount = v
			}
		case string:
			if i+1 < len(args) {
				data[v] = args[i+1]
				i++
			}
		default:
			m.logger.Warn("Unsupported argument type in T", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", v)))
		}
	}
	if len(data) > 0 {
		cfg.TemplateData = data
	}

	out, err := loc.Localize(cfg)
	if err != nil {
		var notFound *i18n.MessageNotFoundErr
		if !errors.As(err, &notFound) {
			m.logger.Error("Failed to localize message", zap.String("key", key), zap.String("lang", code), zap.Error(err))
		}
		if out == "" {
			return key
		}
	}
	return out
}

// Languages returns the loaded language codes, sorted.
func (m *Manager) Languages() []string {
	codes := make([]string, 0, len(m.localizers))
	for code := range m.localizers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// LanguageName returns the display name for a loaded language.
func (m *Manager) LanguageName(code string) (string, bool) {
	name, ok := m.names[code]
	return name, ok
}

func (m *Manager) DefaultLanguage() string {
	return m.defaultLanguage
}
