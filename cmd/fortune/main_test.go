package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/Zereker/fortune"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FORTUNE_LOG_LEVEL", "debug")
	t.Setenv("FORTUNE_HOST", "fortunes.example")
	t.Setenv("FORTUNE_PORT", "5000")
	t.Setenv("FORTUNE_IDLE_TIMEOUT", "3s")
	t.Setenv("FORTUNE_MAX_LENGTH", "512")
	t.Setenv("FORTUNE_LISTEN", "127.0.0.1")
	t.Setenv("FORTUNE_SHUTDOWN_TIMEOUT", "1m")

	require.Equal(t, config{
		LogLevel:        "debug",
		Host:            "fortunes.example",
		Port:            5000,
		IdleTimeout:     3 * time.Second,
		MaxLength:       512,
		Listen:          "127.0.0.1",
		ShutdownTimeout: time.Minute,
	}, loadFromEnv())
}

func TestLoadFromEnv_InvalidValuesUseDefaults(t *testing.T) {
	t.Setenv("FORTUNE_PORT", "70000")
	t.Setenv("FORTUNE_IDLE_TIMEOUT", "soon")
	t.Setenv("FORTUNE_MAX_LENGTH", "big")

	cfg := loadFromEnv()
	require.Zero(t, cfg.Port)
	require.Zero(t, cfg.IdleTimeout)
	require.Zero(t, cfg.MaxLength)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "localhost", cfg.Host)
}

func TestSetLogger(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	for level, want := range map[string]logrus.Level{
		"trace":   logrus.TraceLevel,
		"DEBUG":   logrus.DebugLevel,
		"info":    logrus.InfoLevel,
		"warn":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"verbose": logrus.ErrorLevel,
	} {
		setLogger(level)
		require.Equal(t, want, logrus.GetLevel(), level)
	}
}

func TestServerStatus(t *testing.T) {
	require.Equal(t,
		"The server is running on\n\nIP: 10.0.0.5\nport: 5000\n\nRun the fortune client now.",
		serverStatus("10.0.0.5", 5000))
}

func TestLocalHosts(t *testing.T) {
	hosts := localHosts()
	require.Contains(t, hosts, "localhost")

	// Loopback addresses come last.
	seenLoopback := false
	for _, h := range hosts {
		ip := net.ParseIP(h)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() {
			seenLoopback = true
		} else {
			require.False(t, seenLoopback, "%s listed after a loopback address", h)
		}
	}

	require.NotNil(t, net.ParseIP(statusIP()).To4())
}

func TestUserError(t *testing.T) {
	require.NoError(t, userError(nil))
	require.NoError(t, userError(&fortune.ConnectionError{Kind: fortune.RemoteClosed, Err: io.EOF}))

	err := userError(errors.Wrap(&fortune.ConnectionError{Kind: fortune.ConnectionRefused}, "read"))
	require.EqualError(t, err,
		"The connection was refused by the peer. Make sure the fortune server is running, "+
			"and check that the host name and port settings are correct.")

	plain := errors.New("session closed")
	require.Equal(t, plain, userError(plain))
}

// startServer serves store on a loopback port for the length of the test.
func startServer(t *testing.T, store *fortune.Store) int {
	t.Helper()

	srv, err := fortune.New(&net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, fortune.NewFortuneHandler(store))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv.Port()
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	cfg := config{LogLevel: "error", Host: "localhost"}
	cmd := newRootCmd(&cfg)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestGetAndSet(t *testing.T) {
	store := fortune.NewStore("A")
	port := strconv.Itoa(startServer(t, store))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := execute(t, ctx, "get", "--host", "127.0.0.1", "--port", port)
	require.NoError(t, err)
	require.Equal(t, "A\n", out)

	_, err = execute(t, ctx, "set", "--host", "127.0.0.1", "--port", port, "B")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return store.Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	out, err = execute(t, ctx, "get", "--host", "127.0.0.1", "--port", port)
	require.NoError(t, err)
	require.Equal(t, "A\nB\n", out)
}

func TestGet_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	_, err = execute(t, context.Background(), "get", "--host", "127.0.0.1", "--port", port)
	require.ErrorContains(t, err, "The connection was refused by the peer.")
}

func TestGet_RequiresPort(t *testing.T) {
	_, err := execute(t, context.Background(), "get", "--host", "127.0.0.1")
	require.ErrorContains(t, err, "required")
}

func TestSet_RequiresText(t *testing.T) {
	_, err := execute(t, context.Background(), "set", "--host", "127.0.0.1", "--port", "5000", "")
	require.ErrorContains(t, err, "required")
}

func TestServerCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := execute(t, ctx, "server", "--listen", "127.0.0.1", "--port", "0")
		done <- result{out, err}
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Contains(t, r.out, "The server is running on")
		require.Contains(t, r.out, "Run the fortune client now.")
	case <-time.After(5 * time.Second):
		t.Fatal("server command did not stop")
	}
}

func TestServerCommand_InvalidListen(t *testing.T) {
	_, err := execute(t, context.Background(), "server", "--listen", "not-an-ip")
	require.ErrorContains(t, err, "invalid listen address")
}

func TestHostsCommand(t *testing.T) {
	out, err := execute(t, context.Background(), "hosts")
	require.NoError(t, err)
	require.Contains(t, out, "localhost\n")
}
