package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/mercora/eventline/internal/runtime/config"
	errspkg "github.com/mercora/eventline/internal/runtime/errors"
	ledgerpkg "github.com/mercora/eventline/internal/runtime/ledger"
	schemapkg "github.com/mercora/eventline/internal/runtime/schema"
)

func TestNewService_RequiresConfigAndLogger(t *testing.T) {
	ctx := context.Background()

	if _, err := NewService(ctx, nil, testLogger(), ServiceDependencies{}); !errors.Is(err, errspkg.ErrConfigRequired) {
		t.Errorf("expected ErrConfigRequired, got %v", err)
	}
	if _, err := NewService(ctx, channelConfig(), nil, ServiceDependencies{}); !errors.Is(err, errspkg.ErrLoggerRequired) {
		t.Errorf("expected ErrLoggerRequired, got %v", err)
	}
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	conf := channelConfig()
	conf.BrokerSystem = "rabbitmq" // needs a broker URL

	if _, err := NewService(context.Background(), conf, testLogger(), ServiceDependencies{}); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestNewService_DefaultsDependencies(t *testing.T) {
	svc, err := NewService(context.Background(), channelConfig(), testLogger(), ServiceDependencies{})
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}
	defer svc.Close()

	if svc.Schemas() == nil {
		t.Error("expected a default schema registry")
	}
	if svc.ledger == nil {
		t.Error("expected a default ledger")
	}
	if !svc.Connection().IsConnected() {
		t.Error("expected an established connection")
	}
}

func TestNewService_UsesProvidedDependencies(t *testing.T) {
	schemas := schemapkg.NewRegistry()
	schemas.Register("order-created", 1, &orderCreated{})
	ledger := ledgerpkg.NewMemoryLedger()

	svc, err := NewService(context.Background(), channelConfig(), testLogger(), ServiceDependencies{
		Schemas: schemas,
		Ledger:  ledger,
	})
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}
	defer svc.Close()

	if svc.Schemas() != schemas {
		t.Error("provided schema registry was not used")
	}
	if svc.ledger != ledger {
		t.Error("provided ledger was not used")
	}
	if svc.Schemas().Version("order-created") != 1 {
		t.Error("schema registration lost")
	}
}

func TestService_TwoInstancesShareNothing(t *testing.T) {
	a, err := NewService(context.Background(), channelConfig(), testLogger(), ServiceDependencies{})
	if err != nil {
		t.Fatalf("creating first service: %v", err)
	}
	defer a.Close()

	confB := channelConfig()
	confB.ConsumerName = "other-service"
	b, err := NewService(context.Background(), confB, testLogger(), ServiceDependencies{})
	if err != nil {
		t.Fatalf("creating second service: %v", err)
	}
	defer b.Close()

	a.Schemas().Register("order-created", 3, &orderCreated{})
	if b.Schemas().Known("order-created") {
		t.Error("schema registries must be independent per service")
	}
	if a.Connection() == b.Connection() {
		t.Error("connection managers must be independent per service")
	}
}

func TestService_CloseDisconnects(t *testing.T) {
	svc, err := NewService(context.Background(), channelConfig(), testLogger(), ServiceDependencies{})
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}

	if err := svc.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if svc.Connection().IsConnected() {
		t.Error("expected connection to be released after Close")
	}
	if _, err := svc.Connection().Channel(); !errors.Is(err, errspkg.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after Close, got %v", err)
	}
}

func TestRegisterMiddleware_Validation(t *testing.T) {
	svc, err := NewService(context.Background(), channelConfig(), testLogger(), ServiceDependencies{})
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}
	defer svc.Close()

	if err := svc.RegisterMiddleware(MiddlewareRegistration{Name: "empty"}); err == nil {
		t.Error("registration without middleware or builder should fail")
	}

	builderErr := errors.New("builder exploded")
	err = svc.RegisterMiddleware(MiddlewareRegistration{
		Name:    "failing",
		Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, builderErr },
	})
	if !errors.Is(err, builderErr) {
		t.Errorf("expected builder error to surface, got %v", err)
	}
}

func TestNewService_CustomMiddlewareFailureSurfaces(t *testing.T) {
	boom := errors.New("middleware setup failed")
	_, err := NewService(context.Background(), channelConfig(), testLogger(), ServiceDependencies{
		Middlewares: []MiddlewareRegistration{{
			Name:    "broken",
			Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, boom },
		}},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected middleware error to surface, got %v", err)
	}
}

func TestValidateConfigHelper(t *testing.T) {
	if err := configpkg.ValidateConfig(nil); err == nil {
		t.Error("nil config must be rejected")
	}
	if err := configpkg.ValidateConfig(channelConfig()); err != nil {
		t.Errorf("channel config should validate, got %v", err)
	}
}
