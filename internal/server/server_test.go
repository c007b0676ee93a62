package server_test

import (
	"NoteLedger/internal/core"
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"NoteLedger/internal/persistence"
	"NoteLedger/internal/query"
	"NoteLedger/internal/server"
	"NoteLedger/internal/token"
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const (
	tokenAddr   = "0x00000000000000000000000000000000000000aa"
	beneficiary = "0x00000000000000000000000000000000000000bb"
	payer       = "0x00000000000000000000000000000000000000cc"
	alice       = "0x0000000000000000000000000000000000000a11"
	bob         = "0x0000000000000000000000000000000000000B0b"
)

// ledgerWatermark treats everything the ledger sequenced as durable; the
// test sink writes synchronously.
type ledgerWatermark struct{ l *ledger.Ledger }

func (w ledgerWatermark) Watermark() uint64 { return w.l.Sequence() }

type fixture struct {
	svc     *server.Service
	token   *token.MemoryLedger
	store   *persistence.MemoryStore
	metrics *observability.Metrics
	health  *observability.HealthChecker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := persistence.NewMemoryStore()
	sink := ledger.SinkFunc(func(e ledger.Entry) {
		if err := store.AppendEntries(context.Background(), []ledger.Entry{e}); err != nil {
			t.Errorf("append: %v", err)
		}
	})

	tl := token.NewMemoryLedger()
	l := ledger.New(tl, ledger.WithSink(sink))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	durable := ledgerWatermark{l}

	idem := core.NewIdempotencyChecker(1000, store, metrics, zerolog.Nop())
	health := observability.NewHealthChecker()
	health.SetReady(true)

	svc := server.NewService(server.ServiceDeps{
		Processor:     core.NewProcessor(l, idem, metrics, zerolog.Nop()),
		Query:         query.NewQueryService(store, durable),
		Snapshots:     persistence.NewSnapshotter(store, l, durable, 0, metrics, zerolog.Nop()),
		Durable:       durable,
		Health:        health,
		TokenDecimals: 6,
	})
	return &fixture{svc: svc, token: tl, store: store, metrics: metrics, health: health}
}

// dial serves the fixture's service over bufconn.
func (f *fixture) dial(t *testing.T) (*grpc.ClientConn, *server.GRPCServer) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	gs := server.NewGRPCServer("bufconn", "", f.svc, f.health, f.metrics, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return conn, gs
}
