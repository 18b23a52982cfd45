package cache

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRedis speaks just enough RESP to exercise the client: SET/GET/DEL,
// INCR/PEXPIRE/PTTL. It records every key it sees so tests can assert the
// exact wire format.
type fakeRedis struct {
	listener net.Listener

	mu       sync.Mutex
	values   map[string]string
	expiries map[string]time.Time
	counters map[string]int64
	keysSeen []string
}

func newFakeRedis(t *testing.T) *fakeRedis {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fakeRedis{
		listener: listener,
		values:   make(map[string]string),
		expiries: make(map[string]time.Time),
		counters: make(map[string]int64),
	}
	go srv.serve()
	t.Cleanup(func() {
		_ = listener.Close()
	})
	return srv
}

func (f *fakeRedis) addr() string {
	return f.listener.Addr().String()
}

func (f *fakeRedis) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeRedis) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		raw, err := readResponse(reader)
		if err != nil {
			return
		}
		parts, ok := raw.([]interface{})
		if !ok || len(parts) == 0 {
			return
		}

		args := make([]string, 0, len(parts))
		for _, part := range parts {
			b, ok := part.([]byte)
			if !ok {
				return
			}
			args = append(args, string(b))
		}

		if reply := f.dispatch(args); reply != "" {
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}
}

func (f *fakeRedis) dispatch(args []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	command := strings.ToUpper(args[0])
	if len(args) > 1 {
		f.keysSeen = append(f.keysSeen, args[1])
	}

	switch command {
	case "SET":
		f.values[args[1]] = args[2]
		if len(args) >= 5 && strings.EqualFold(args[3], "PX") {
			ms, _ := strconv.ParseInt(args[4], 10, 64)
			f.expiries[args[1]] = time.Now().Add(time.Duration(ms) * time.Millisecond)
		}
		return "+OK\r\n"
	case "GET":
		expiry, hasExpiry := f.expiries[args[1]]
		if hasExpiry && time.Now().After(expiry) {
			delete(f.values, args[1])
			delete(f.expiries, args[1])
		}
		value, ok := f.values[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return "$" + strconv.Itoa(len(value)) + "\r\n" + value + "\r\n"
	case "DEL":
		removed := 0
		for _, key := range args[1:] {
			if _, ok := f.values[key]; ok {
				removed++
			}
			delete(f.values, key)
			delete(f.expiries, key)
		}
		return ":" + strconv.Itoa(removed) + "\r\n"
	case "INCR":
		f.counters[args[1]]++
		return ":" + strconv.FormatInt(f.counters[args[1]], 10) + "\r\n"
	case "PEXPIRE":
		ms, _ := strconv.ParseInt(args[2], 10, 64)
		f.expiries[args[1]] = time.Now().Add(time.Duration(ms) * time.Millisecond)
		return ":1\r\n"
	case "PTTL":
		expiry, ok := f.expiries[args[1]]
		if !ok {
			return ":-1\r\n"
		}
		return ":" + strconv.FormatInt(time.Until(expiry).Milliseconds(), 10) + "\r\n"
	default:
		return "-ERR unknown command\r\n"
	}
}

func (f *fakeRedis) seenKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keysSeen...)
}

func newTestClient(t *testing.T, srv *fakeRedis) *RedisClient {
	t.Helper()

	client, err := NewRedisClient(RedisConfig{Address: srv.addr(), Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestRedisClientSetGetDelete(t *testing.T) {
	srv := newFakeRedis(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	key := ResourceKey("item", "42")
	require.NoError(t, client.Set(ctx, key, []byte(`{"id":"42"}`), time.Minute))

	value, found, err := client.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{"id":"42"}`, string(value))

	require.NoError(t, client.Delete(ctx, key))

	_, found, err = client.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisClientWritesKeysVerbatim(t *testing.T) {
	srv := newFakeRedis(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, ResourceKey("item", "abc"), []byte("x"), time.Second))

	seen := srv.seenKeys()
	require.NotEmpty(t, seen)
	require.Equal(t, "resource:item:abc", seen[len(seen)-1])
}

func TestRedisClientMissReturnsNotFound(t *testing.T) {
	srv := newFakeRedis(t)
	client := newTestClient(t, srv)

	value, found, err := client.Get(context.Background(), ResourceKey("item", "missing"))
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, value)
}

func TestRedisClientIncrementWithTTL(t *testing.T) {
	srv := newFakeRedis(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	count, ttl, err := client.IncrementWithTTL(ctx, "ratelimit:10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))

	count, _, err = client.IncrementWithTTL(ctx, "ratelimit:10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestRedisClientRequiresAddress(t *testing.T) {
	_, err := NewRedisClient(RedisConfig{})
	require.Error(t, err)
}

func TestNormalizeKeyCollapsesColons(t *testing.T) {
	require.Equal(t, "resource:item:1", normalizeKey("resource::item::1"))
	require.Equal(t, "plain", normalizeKey("plain"))
}
