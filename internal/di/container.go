package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mekongcart/api/internal/payments"
	"github.com/mekongcart/api/internal/platform/config"
	"github.com/mekongcart/api/internal/repositories"
	"github.com/mekongcart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout       services.CheckoutService
	Orders         services.OrderService
	PaymentReturns services.PaymentReturnService
}

// Container wires repositories, services, and the gateway for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Gateway      payments.Provider
	Services     Services
}

// ContainerDeps carries the externally constructed infrastructure the
// container assembles services from.
type ContainerDeps struct {
	Repositories repositories.Registry
	Publisher    services.OrderEventPublisher
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries.
func NewContainer(cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	var gateway payments.Provider
	if cfg.GatewayConfigured() {
		provider, err := payments.NewVNPayProvider(payments.VNPayConfig{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			GatewayURL: cfg.VNPay.GatewayURL,
			ReturnURL:  cfg.VNPay.ReturnURL,
			Version:    cfg.VNPay.Version,
			Command:    cfg.VNPay.Command,
			CurrCode:   cfg.VNPay.CurrCode,
			Locale:     cfg.VNPay.Locale,
			TimeZone:   cfg.VNPay.TimeZone,
		})
		if err != nil {
			return nil, fmt.Errorf("build vnpay provider: %w", err)
		}
		gateway = provider
	}

	svc, err := buildServices(cfg, deps, gateway)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Repositories,
		Gateway:      gateway,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, deps ContainerDeps, gateway payments.Provider) (Services, error) {
	var svc Services

	pricer, err := services.NewPricingService(services.PricingServiceDeps{
		Variants: deps.Repositories.Variants(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Repositories: deps.Repositories,
		Pricer:       pricer,
		Gateway:      gateway,
		Shipping:     cfg.Shipping,
		BankTransfer: cfg.BankTransfer,
		Publisher:    deps.Publisher,
		Clock:        deps.Clock,
		Logger:       deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Repositories: deps.Repositories,
		Publisher:    deps.Publisher,
		Clock:        deps.Clock,
		Logger:       deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	if gateway != nil {
		returns, err := services.NewPaymentReturnService(services.PaymentReturnServiceDeps{
			Repositories: deps.Repositories,
			Gateway:      gateway,
			Publisher:    deps.Publisher,
			Clock:        deps.Clock,
			Logger:       deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment return service: %w", err)
		}
		svc.PaymentReturns = returns
	}

	return svc, nil
}
