package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/rbright/relay/internal/config"
)

func dialTest(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := Dial(context.Background(), Options{Addr: mr.Addr(), DialTimeout: time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDialUnreachableReturnsErrUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Dial(context.Background(), Options{Addr: addr, DialTimeout: 200 * time.Millisecond}, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnavailable))
	require.Contains(t, err.Error(), addr)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Password = "pw"
	cfg.DB = 3

	opts := OptionsFromConfig(cfg)
	require.Equal(t, "127.0.0.1:6379", opts.Addr)
	require.Equal(t, "pw", opts.Password)
	require.Equal(t, 3, opts.DB)
	require.Equal(t, 5*time.Second, opts.DialTimeout)
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	_, client := dialTest(t)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "realtime:alerts")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, client.Publish(ctx, "realtime:alerts", "start speech"))
	require.NoError(t, client.Publish(ctx, "realtime:alerts", "stop speech"))

	for _, want := range []string{"start speech", "stop speech"} {
		select {
		case msg := <-sub.Messages():
			require.Equal(t, "realtime:alerts", msg.Topic)
			require.Equal(t, want, msg.Payload)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestSubscribeMultipleTopicsSharesOneStream(t *testing.T) {
	mr, client := dialTest(t)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "realtime:alerts", "url_channel")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()
	require.ElementsMatch(t, []string{"realtime:alerts", "url_channel"}, mr.PubSubChannels("*"))

	require.NoError(t, client.Publish(ctx, "url_channel", "https://example.com"))
	require.NoError(t, client.Publish(ctx, "realtime:alerts", "screenshot"))

	for _, want := range []Message{
		{Topic: "url_channel", Payload: "https://example.com"},
		{Topic: "realtime:alerts", Payload: "screenshot"},
	} {
		select {
		case msg := <-sub.Messages():
			require.Equal(t, want, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want.Payload)
		}
	}
}

func TestSubscribeRequiresTopic(t *testing.T) {
	_, client := dialTest(t)

	_, err := client.Subscribe(context.Background())
	require.Error(t, err)
}

func TestSubscriptionCloseClosesMessages(t *testing.T) {
	_, client := dialTest(t)

	sub, err := client.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Messages():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("messages channel was not closed")
	}
}

func TestSetWithTTLStoresValueAndExpiry(t *testing.T) {
	mr, client := dialTest(t)

	require.NoError(t, client.SetWithTTL(context.Background(), "image:capture_1_1", "aGVsbG8=", time.Minute))

	got, err := mr.Get("image:capture_1_1")
	require.NoError(t, err)
	require.Equal(t, "aGVsbG8=", got)
	require.Equal(t, time.Minute, mr.TTL("image:capture_1_1"))

	mr.FastForward(61 * time.Second)
	require.False(t, mr.Exists("image:capture_1_1"))
}

func TestInspectListsMatchingKeys(t *testing.T) {
	mr, client := dialTest(t)
	ctx := context.Background()

	require.NoError(t, client.SetWithTTL(ctx, "image:b", "12345", time.Minute))
	require.NoError(t, client.SetWithTTL(ctx, "image:a", "123", 30*time.Second))
	require.NoError(t, mr.Set("other", "x"))

	infos, err := client.Inspect(ctx, "image:*", 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "image:a", infos[0].Key)
	require.Equal(t, "string", infos[0].Type)
	require.Equal(t, int64(3), infos[0].Size)
	require.Equal(t, 30*time.Second, infos[0].TTL)
	require.Equal(t, "image:b", infos[1].Key)
	require.Equal(t, int64(5), infos[1].Size)

	all, err := client.Inspect(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
