package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nerdneilsfield/storyboarder/internal/config"
	"github.com/nerdneilsfield/storyboarder/internal/logger"
	"github.com/nerdneilsfield/storyboarder/internal/storage"
	"github.com/nerdneilsfield/storyboarder/internal/storyboard"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// loadConfig 加载并校验配置，然后按配置创建日志记录器
func loadConfig(configFile string, mode config.Mode) (*config.Config, *zap.Logger, error) {
	// 先初始化一个基本日志记录器，用于记录配置加载过程
	tempLogger, _ := zap.NewProduction()
	defer tempLogger.Sync()

	if configFile == "" {
		tempLogger.Debug("使用默认配置文件路径")
		configFile = "./config.toml"
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		tempLogger.Error("配置文件不存在", zap.String("path", configFile))
		return nil, nil, fmt.Errorf("config file %s does not exist", configFile)
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		tempLogger.Error("加载配置失败", zap.Error(err))
		return nil, nil, err
	}
	if err := config.ValidateConfig(cfg, mode); err != nil {
		tempLogger.Error("配置验证失败", zap.Error(err))
		return nil, nil, err
	}

	level := cfg.LogConfig.Level
	if verbose {
		level = "debug"
		config.PrintConfig(cfg)
	}
	log, err := logger.InitLogger(level, cfg.LogConfig.Format, cfg.LogConfig.File)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// blobPublicBase is where the serve command exposes the blob directory.
func blobPublicBase(cfg *config.Config) string {
	if cfg.Storage.PublicBaseURL != "" {
		return cfg.Storage.PublicBaseURL
	}
	return strings.TrimSuffix(cfg.Server.PublicURL, "/") + "/static"
}

// storageHandles are the stores opened for a command; close releases them.
type storageHandles struct {
	db      *gorm.DB
	gateway *storyboard.Gateway
	close   func()
}

// openGateway opens the gallery stores. Records go to Postgres when a DSN is
// configured, otherwise to the SQLite database, which also holds user settings.
func openGateway(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storageHandles, error) {
	blobs, err := storage.NewFileStore(cfg.Storage.BlobDir, blobPublicBase(cfg))
	if err != nil {
		return nil, err
	}

	h := &storageHandles{close: func() {}}
	if cfg.Storage.DBPath != "" {
		db, err := storage.InitDB(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		h.db = db
		h.close = func() {
			if err := storage.Close(db); err != nil {
				log.Warn("Failed to close database", zap.Error(err))
			}
		}
	}

	var records storyboard.RecordStore
	switch {
	case cfg.Storage.PostgresDSN != "":
		pg, err := storage.OpenPgImageStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			h.close()
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		closeDB := h.close
		h.close = func() {
			pg.Close()
			closeDB()
		}
		records = pg
	case h.db != nil:
		records = storage.NewGormImageStore(h.db)
	default:
		return nil, fmt.Errorf("storage.dbPath or storage.postgresDSN is required to save panels")
	}

	h.gateway = storyboard.NewGateway(blobs, records, nil, log.Named("gallery"))
	return h, nil
}
