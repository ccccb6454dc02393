package main

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/bot"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/config"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/db"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/verify"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/wizard"
)

const identityTokenTTL = 30 * 24 * time.Hour

func openDatabase() (*db.DB, error) {
	database, err := db.New(cfg)
	if err != nil {
		return nil, err
	}

	if err := db.RunMigrations(database.Conn); err != nil {
		_ = database.Close()
		return nil, err
	}

	return database, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	logger.Info("migrations applied", zap.String("driver", cfg.DBDriver))

	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	sweeper := verify.NewSweeper(db.NewChallengeRepository(database.Conn), cfg.SweepInterval, cfg.ChallengeRetention, logger)

	n, err := sweeper.SweepOnce(cmd.Context())
	if err != nil {
		return err
	}

	logger.Info("sweep finished", zap.Int64("deleted", n))

	return nil
}

func runBot(cmd *cobra.Command, _ []string) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}

	challenges := db.NewChallengeRepository(database.Conn)

	controller, err := newController(database, challenges, cfg)
	if err != nil {
		return err
	}

	rules := wizard.Rules{AgeMin: cfg.AgeMin, AgeMax: cfg.AgeMax}
	botService := bot.New(botAPI, controller, bot.Options{CountryCode: cfg.CountryCode, Rules: rules}, logger.Named("bot"))
	sweeper := verify.NewSweeper(challenges, cfg.SweepInterval, cfg.ChallengeRetention, logger.Named("sweeper"))

	logger.Info("bot started", zap.String("username", botAPI.Self.UserName))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return botService.Start(ctx)
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	err = g.Wait()
	logger.Info("bot stopped", zap.Error(err))

	return err
}

func newController(database *db.DB, challenges *db.ChallengeRepository, cfg *config.Config) (*wizard.Controller, error) {
	signer, err := verify.NewSigner(cfg.JWTSecret, identityTokenTTL)
	if err != nil {
		return nil, err
	}

	identities := db.NewIdentityRepository(database.Conn)

	var sender verify.Sender
	if cfg.SMSWebhookURL != "" {
		sender = verify.NewWebhookSender(cfg.SMSWebhookURL, cfg.SMSWebhookKey)
	} else {
		logger.Warn("SMS_WEBHOOK_URL is not set, verification codes are only logged")
		sender = verify.NewLogSender(logger.Named("sms"))
	}

	phone := verify.NewPhoneVerifier(
		challenges,
		identities,
		sender,
		signer,
		verify.PhoneOptions{
			TTL:         cfg.ChallengeTTL,
			MaxAttempts: cfg.MaxAttempts,
			RateLimit:   cfg.RateLimit,
			RateWindow:  cfg.RateWindow,
		},
		logger.Named("verify"),
	)

	gateway := verify.NewService(phone)
	gateway.RegisterFederator(verify.ProviderTelegram, verify.NewTelegramFederation(identities, signer, logger.Named("telegram")))

	opts := wizard.Options{
		Rules:       wizard.Rules{AgeMin: cfg.AgeMin, AgeMax: cfg.AgeMax},
		CountryCode: cfg.CountryCode,
		Retry:       wizard.DefaultRetryPolicy(),
	}

	return wizard.New(gateway, db.NewProfileRepository(database.Conn), opts, logger.Named("wizard")), nil
}
