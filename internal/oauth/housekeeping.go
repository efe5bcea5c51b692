package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/railgate/internal/auditcontext"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/oauth/code"
	"github.com/smallbiznis/railgate/internal/oauth/token"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Housekeeper deletes authorization codes and refresh tokens that can no
// longer be redeemed.
type Housekeeper struct {
	log      *zap.Logger
	clock    clock.Clock
	codes    *code.Engine
	tokens   *token.Engine
	interval time.Duration
}

func NewHousekeeper(log *zap.Logger, cfg config.Config, clk clock.Clock, codes *code.Engine, tokens *token.Engine) *Housekeeper {
	interval := cfg.OAuth.PurgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Housekeeper{
		log:      log.Named("oauth.housekeeping"),
		clock:    clk,
		codes:    codes,
		tokens:   tokens,
		interval: interval,
	}
}

// RunOnce purges everything that expired before now.
func (h *Housekeeper) RunOnce(ctx context.Context) error {
	ctx = auditcontext.WithActor(ctx, auditcontext.ActorSystem, "housekeeping")
	now := h.clock.Now()

	codes, codeErr := h.codes.PurgeExpired(ctx, now)
	tokens, tokenErr := h.tokens.PurgeExpired(ctx, now)
	if err := errors.Join(codeErr, tokenErr); err != nil {
		return err
	}
	if codes > 0 || tokens > 0 {
		h.log.Info("purged expired grants",
			zap.Int64("authorization_codes", codes),
			zap.Int64("refresh_tokens", tokens),
		)
	}
	return nil
}

func (h *Housekeeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.RunOnce(ctx); err != nil {
			h.log.Warn("housekeeping run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func startHousekeeping(lc fx.Lifecycle, h *Housekeeper) {
	var cancel context.CancelFunc
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				h.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
