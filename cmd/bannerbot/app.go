package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/karwa/bannerbot/bot/flow"
	"github.com/karwa/bannerbot/bot/genapi"
	"github.com/karwa/bannerbot/bot/session"
	"github.com/karwa/bannerbot/bot/storage"
	"github.com/karwa/bannerbot/bot/tg"
	"github.com/karwa/bannerbot/core/bootstrap"
	corecmd "github.com/karwa/bannerbot/core/cmd"
	coreconfig "github.com/karwa/bannerbot/core/config"
	coredatabase "github.com/karwa/bannerbot/core/database"
	coretelegram "github.com/karwa/bannerbot/core/telegram"
	"github.com/karwa/bannerbot/core/telegram/router"
)

type app struct {
	cfg     *coreconfig.Config
	db      *sqlx.DB
	adapter *tg.Adapter
	reg     *coretelegram.Registry
}

func newApp(cfg *coreconfig.Config) (corecmd.TelegramApp, error) {
	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg,
		Database: databaseConfig(cfg),
		Seeders: []bootstrap.Seeder{
			storage.OwnerSeeder(cfg.Bot.OwnerID, cfg.Bot.OwnerUsername),
		},
	})
	if err != nil {
		return nil, err
	}

	tempDir := cfg.Bot.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	} else if err := os.MkdirAll(tempDir, 0o700); err != nil {
		_ = res.DB.Close()
		return nil, fmt.Errorf("temp dir: %w", err)
	}

	store := storage.New(res.DB, cfg.Bot.OwnerID, cfg.Bot.DailyLimit)
	engine := flow.NewEngine(flow.Options{
		Sessions: session.NewStore(session.WithTTL(cfg.Bot.SessionTTL())),
		Dir:      store,
		Backend:  genapi.NewOpenRouter(cfg.Generation),
		OwnerID:  cfg.Bot.OwnerID,
		PageSize: cfg.Bot.UsersPageSize,
		TempDir:  tempDir,
	})

	adapter := tg.New(engine, tempDir)
	return &app{
		cfg:     cfg,
		db:      res.DB,
		adapter: adapter,
		reg:     adapter.BuildRegistry(),
	}, nil
}

func (a *app) TelegramRunOptions() (coretelegram.RunOptions, error) {
	routes := router.CommandRoutes(a.reg, router.CommandRouteOptions{
		OwnerID: a.cfg.Bot.OwnerID,
	})
	routes = append(routes, router.CallbackRoute(a.reg, router.CallbackOptions{}))
	routes = append(routes, router.MessageRoutes(a.adapter, a.reg, router.MessageOptions{
		UnexpectedPhoto: a.adapter.PhotoHandler,
	})...)

	return coretelegram.RunOptions{
		Config:      a.cfg,
		Registry:    a.reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, nil),
		Routes:      routes,
		OnStop: func(ctx context.Context, rt coretelegram.Runtime) error {
			return a.db.Close()
		},
	}, nil
}

func databaseConfig(cfg *coreconfig.Config) coredatabase.Config {
	return coredatabase.Config{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		Name:           cfg.Database.Name,
		SSLMode:        cfg.Database.SSLMode,
		MaxConnections: cfg.Database.MaxConnections,
	}
}
