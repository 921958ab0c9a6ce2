// mail-worker drains the assignment email queue and hands each decided
// notification to the mail service. It shares the Redis queue with the
// voucher API but runs as its own process so delivery retries never block
// redemption traffic.
package main

import (
	"context"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/course-voucher-engine/internal/notify"
)

type config struct {
	Redis struct {
		Addr     string `default:"localhost:6379" usage:"Redis address"`
		Password string `default:"" usage:"Redis password"`
		DB       int    `default:"0" usage:"Redis database number"`
	}
	Mail struct {
		Endpoint string        `usage:"Mail service webhook URL (VOUCHER_MAIL_ENDPOINT)" flag:"mail-endpoint"`
		Timeout  time.Duration `default:"10s" usage:"Mail service request timeout" flag:"mail-timeout"`
	}
}

func loadConfig() (*config, error) {
	var cfg config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "VOUCHER",
		Files:     []string{"config.yaml", "/etc/voucher/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if cfg.Mail.Endpoint == "" {
		return nil, errors.New("mail endpoint is required: set VOUCHER_MAIL_ENDPOINT")
	}
	return &cfg, nil
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			_ = rdb.Close()
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}

		lg.Info("Mail worker starting",
			zap.String("redis", cfg.Redis.Addr),
			zap.String("endpoint", cfg.Mail.Endpoint),
		)

		sender := notify.NewWebhookSender(cfg.Mail.Endpoint, cfg.Mail.Timeout)
		return notify.NewWorker(rdb, sender).Run(ctx)
	})
}
