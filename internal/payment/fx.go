package payment

import (
	"github.com/fastingvibe/api/internal/config"
	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"
	"github.com/fastingvibe/api/internal/payment/stripe"
	"github.com/fastingvibe/api/internal/payment/webhook"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment",
	fx.Provide(provideGateway),
	fx.Provide(provideWebhookAdapter),
	fx.Provide(webhook.New),
)

// provideGateway returns a nil gateway when no provider key is configured;
// purchase and cancel paths report not-configured instead of failing startup.
func provideGateway(cfg config.Config, holder *config.ReconcileConfigHolder, log *zap.Logger) paymentdomain.Gateway {
	client, err := stripe.NewClient(stripe.ClientConfig{
		APIKey:     cfg.StripeSecretKey,
		APIVersion: cfg.StripeAPIVersion,
		Timeout:    holder.Get().GatewayTimeout,
	}, log)
	if err != nil {
		log.Warn("payment gateway not configured", zap.Error(err))
		return nil
	}
	return client
}

func provideWebhookAdapter(cfg config.Config, log *zap.Logger) paymentdomain.WebhookAdapter {
	adapter, err := stripe.NewAdapter(cfg.StripeWebhookSecret)
	if err != nil {
		log.Warn("webhook verification not configured", zap.Error(err))
		return nil
	}
	return adapter
}
