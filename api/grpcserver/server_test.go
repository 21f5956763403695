package grpcserver

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"ebr/infra/memory"
	"ebr/infra/sequence"
	"ebr/service"
)

func dial(t *testing.T, svc *service.SoakService) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(zaptest.NewLogger(t))))
	Register(srv, NewServer(svc))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestStatsAndCollect(t *testing.T) {
	c := memory.NewCollector(memory.Config{})
	defer c.Release()
	svc := service.New(c, nil, sequence.New(0), service.Config{})
	defer svc.Close()

	client := dial(t, svc)
	ctx := context.Background()

	before, err := client.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, float64(1), before.Fields["participants"].GetNumberValue())
	require.Zero(t, before.Fields["violations"].GetNumberValue())

	after, err := client.Collect(ctx)
	require.NoError(t, err)
	require.Greater(t,
		after.Fields["epoch_advances"].GetNumberValue(),
		before.Fields["epoch_advances"].GetNumberValue(),
		"a lone maintenance participant always advances",
	)
}
