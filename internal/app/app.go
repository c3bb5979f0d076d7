// internal/app/app.go
package app

import (
	"context"
	"fmt"

	"contract-service/config"
	"contract-service/internal/provider"
	"contract-service/internal/provider/paygate"
	"contract-service/internal/pub"
	"contract-service/internal/repository"
	"contract-service/internal/repository/memory"
	"contract-service/internal/usecase"
	"contract-service/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Repositories struct {
	Contracts   repository.ContractRepository
	Payments    repository.PaymentRepository
	Balances    repository.BalanceRepository
	Withdrawals repository.WithdrawalRepository
	Identities  repository.IdentityRepository
}

// App holds the wired service graph shared by the server and the admin CLI.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *pgxpool.Pool
	Redis *redis.Client
	Cache *repository.Cache

	Repos     Repositories
	Gateway   provider.ChargeProvider
	Local     *pub.Local
	Publisher pub.Publisher

	Contracts   *usecase.ContractUsecase
	Payments    *usecase.PaymentUsecase
	Withdrawals *usecase.WithdrawalUsecase
}

// Build connects the configured store, cache, publishers and gateway and wires the usecases.
// With redis enabled balance events travel over redis; otherwise they stay on the Local bus.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Local: pub.NewLocal()}

	switch cfg.Ledger.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		s := memory.NewStore()
		a.Repos = Repositories{
			Contracts:   s.Contracts,
			Payments:    s.Payments,
			Balances:    s.Balances,
			Withdrawals: s.Withdrawals,
			Identities:  s.Identities,
		}
	default:
		pool, err := config.ConnectDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.DB = pool
		a.Repos = Repositories{
			Contracts:   repository.NewContractRepository(pool),
			Payments:    repository.NewPaymentRepository(pool),
			Balances:    repository.NewBalanceRepository(pool),
			Withdrawals: repository.NewWithdrawalRepository(pool),
			Identities:  repository.NewIdentityRepository(pool),
		}
	}

	publishers := []pub.Publisher{}
	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; continuing, cache calls fail open", zap.Error(err))
		}
		a.Cache = repository.NewCache(a.Redis)
		publishers = append(publishers, pub.NewRedisPublisher(a.Redis, logger))
	} else {
		publishers = append(publishers, a.Local)
	}
	if cfg.Kafka.Enabled {
		publishers = append(publishers, pub.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger))
	}
	a.Publisher = pub.Multi(publishers...)

	switch cfg.Gateway.Provider {
	case "paygate":
		a.Gateway = paygate.New(cfg.Gateway, logger)
	default:
		logger.Warn("using sandbox payment gateway")
		a.Gateway = provider.NewSandbox()
	}

	a.Contracts = usecase.NewContractUsecase(a.Repos.Contracts, a.Repos.Payments, a.Publisher, cfg.Ledger, logger)
	a.Payments = usecase.NewPaymentUsecase(
		a.Repos.Contracts,
		a.Repos.Payments,
		a.Repos.Balances,
		a.Gateway,
		a.Contracts,
		a.Cache,
		a.Publisher,
		cfg.Ledger,
		cfg.Gateway.Timeout,
		logger,
	)
	a.Withdrawals = usecase.NewWithdrawalUsecase(a.Repos.Withdrawals, a.Repos.Balances, a.Cache, a.Publisher, cfg.Ledger, logger)
	return a, nil
}

// Migrate applies the embedded schema. It is a no-op for the memory store.
func (a *App) Migrate(ctx context.Context) (int, error) {
	if a.DB == nil {
		return 0, nil
	}
	return migrations.Apply(ctx, a.DB, a.Logger)
}

func (a *App) Close() {
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn("failed to close publishers", zap.Error(err))
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
