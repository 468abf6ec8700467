package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yarrow/pkg/args"
	"yarrow/pkg/config"
	"yarrow/pkg/constants"
	"yarrow/pkg/interfaces"
	"yarrow/pkg/provider"
)

// executeRoot runs the root command with argv and returns its exit code and output
func executeRoot(t *testing.T, argv ...string) (int, string) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(argv)
	code := execute(cmd)
	return code, buf.String()
}

// withConfig points CONFIG_PATH at a temporary file holding yaml
func withConfig(t *testing.T, yaml string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if yaml != "" {
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv(constants.EnvIndexPort, "")
	t.Setenv(constants.EnvIndexHost, "")
}

func TestVersionCmd(t *testing.T) {
	code, out := executeRoot(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "yarrow dev")
	assert.Contains(t, out, "commit: none")
}

func TestRootCmdHelp(t *testing.T) {
	code, out := executeRoot(t, "--help")
	assert.Equal(t, 0, code)
	for _, sub := range []string{"run", "index", "nextid", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRunCmd_ArgumentErrors(t *testing.T) {
	withConfig(t, "")

	tests := []struct {
		name    string
		argv    []string
		wantOut string
	}{
		{
			name:    "missing script",
			argv:    []string{"run", "host=10.0.0.2", "session=s1"},
			wantOut: "'script' - missing mandatory argument",
		},
		{
			name:    "token without assignment",
			argv:    []string{"run", "host=10.0.0.2", "verbose"},
			wantOut: "'verbose' - invalid argument format",
		},
		{
			name:    "runners not a number",
			argv:    []string{"run", "host=h", "session=s", "script=x", "runners=many"},
			wantOut: "argument runners",
		},
		{
			name:    "zero runners",
			argv:    []string{"run", "host=h", "session=s", "script=x", "runners=0"},
			wantOut: "must be at least 1",
		},
		{
			name:    "unknown provider",
			argv:    []string{"run", "host=h", "session=s", "script=x", "provider=nowhere"},
			wantOut: "unsupported cloud provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := executeRoot(t, tt.argv...)
			assert.Equal(t, 1, code)
			assert.Contains(t, out, tt.wantOut)
		})
	}
}

func TestNextIDCmd_UnknownKey(t *testing.T) {
	withConfig(t, "")

	code, out := executeRoot(t, "nextid", "sesion=s1")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "'sesion' - unknown parameter")
	assert.Contains(t, out, "host, session, vmid")
}

func TestApplyRunArguments(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	values, err := args.Parse(
		[]string{"host=10.0.0.2", "session=s1", "script=login.js", "runners=3", "interval=250ms", "provider=ec2", "pages=4"},
		runKnownArgs, true)
	require.NoError(t, err)

	startup, err := applyRunArguments(cfg, values)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Fleet.Runners)
	assert.Equal(t, "250ms", cfg.Fleet.PollInterval.String())
	assert.Equal(t, "ec2", cfg.Cloud.Provider)
	assert.Equal(t, "10.0.0.2", startup.Host)
	assert.Equal(t, "s1", startup.Session)
	assert.Equal(t, "login.js", startup.Script)
	assert.Equal(t, config.DefaultStartupWorkDir, startup.WorkDir)
	assert.Equal(t, config.DefaultStartupUser, startup.User)
	assert.Equal(t, config.DefaultStartupCommand, startup.Command)
}

func TestApplyRunArguments_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	values, err := args.Parse([]string{"host=h", "session=s", "script=x"}, runKnownArgs, true)
	require.NoError(t, err)

	_, err = applyRunArguments(cfg, values)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRunners, cfg.Fleet.Runners)
	assert.Equal(t, config.DefaultPollInterval, cfg.Fleet.PollInterval)
	assert.Equal(t, config.DefaultProvider, cfg.Cloud.Provider)
}

// stoppingFleet creates instances that are already stopped and forgets them once deleted
type stoppingFleet struct {
	mu        sync.Mutex
	instances map[string]string
	requests  []*interfaces.BulkCreateRequest
	deleted   []string
}

func (f *stoppingFleet) ListInstances(ctx context.Context) ([]*interfaces.InstanceView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	views := make([]*interfaces.InstanceView, 0, len(f.instances))
	for name, status := range f.instances {
		views = append(views, &interfaces.InstanceView{Name: name, Status: status})
	}
	return views, nil
}

func (f *stoppingFleet) BulkCreate(ctx context.Context, req *interfaces.BulkCreateRequest) (*interfaces.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	for _, name := range req.Names {
		f.instances[name] = string(constants.WorkerStatusTerminated)
	}
	return &interfaces.Operation{ID: "op-1", Kind: "bulkCreate"}, nil
}

func (f *stoppingFleet) DeleteInstance(ctx context.Context, name string) (*interfaces.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, name)
	f.deleted = append(f.deleted, name)
	return &interfaces.Operation{ID: "op-del-" + name, Kind: "delete"}, nil
}

func TestRunCmd_CompletesFleet(t *testing.T) {
	withConfig(t, `
fleet:
  name_prefix: "load-"
  poll_interval: 1ms
cloud:
  provider: stopping
`)

	fake := &stoppingFleet{instances: make(map[string]string)}
	provider.RegisterFleetProvider("stopping", func(ctx context.Context, cfg *config.Config) (interfaces.CloudFleetClient, error) {
		return fake, nil
	})

	code, out := executeRoot(t, "run", "host=10.0.0.2", "session=s1", "script=login.js", "runners=3")
	require.Equal(t, 0, code, out)

	assert.Contains(t, out, "Starting run(3)")
	assert.Contains(t, out, "Startup script:")
	assert.Contains(t, out, "Y_SESSION=s1")
	assert.Contains(t, out, "runners=3")

	fake.mu.Lock()
	defer fake.mu.Unlock()

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, 3, req.Count)
	assert.Equal(t, "load-#", req.NamePattern)
	assert.True(t, strings.Contains(req.StartupScript, "sudo shutdown now"))
	assert.NotEmpty(t, req.Labels[constants.LabelRun])

	sort.Strings(fake.deleted)
	assert.Equal(t, []string{"load-1", "load-2", "load-3"}, fake.deleted)
	assert.Empty(t, fake.instances)
}

func TestRunCmd_FleetLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("yarrow:fleet-lock:load-", "other-controller"))

	withConfig(t, fmt.Sprintf(`
fleet:
  name_prefix: "load-"
  poll_interval: 1ms
  lock: true
cloud:
  provider: stopping
redis:
  addr: %q
`, mr.Addr()))

	fake := &stoppingFleet{instances: make(map[string]string)}
	provider.RegisterFleetProvider("stopping", func(ctx context.Context, cfg *config.Config) (interfaces.CloudFleetClient, error) {
		return fake, nil
	})

	code, out := executeRoot(t, "run", "host=h", "session=s", "script=x", "runners=2")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "already being reconciled by another controller")
	assert.Empty(t, fake.requests)
}

func TestRunCmd_FleetLockReleasedAfterRun(t *testing.T) {
	mr := miniredis.RunT(t)

	withConfig(t, fmt.Sprintf(`
fleet:
  name_prefix: "load-"
  poll_interval: 1ms
  lock: true
cloud:
  provider: stopping
redis:
  addr: %q
`, mr.Addr()))

	fake := &stoppingFleet{instances: make(map[string]string)}
	provider.RegisterFleetProvider("stopping", func(ctx context.Context, cfg *config.Config) (interfaces.CloudFleetClient, error) {
		return fake, nil
	})

	code, out := executeRoot(t, "run", "host=h", "session=s", "script=x", "runners=2")
	require.Equal(t, 0, code, out)
	assert.False(t, mr.Exists("yarrow:fleet-lock:load-"))
	assert.Len(t, fake.requests, 1)
}

func TestRunCmd_NotifiesOnCompletion(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	withConfig(t, fmt.Sprintf(`
fleet:
  name_prefix: "load-"
  poll_interval: 1ms
cloud:
  provider: stopping
notification:
  feishu_webhook_url: %q
`, srv.URL))

	fake := &stoppingFleet{instances: make(map[string]string)}
	provider.RegisterFleetProvider("stopping", func(ctx context.Context, cfg *config.Config) (interfaces.CloudFleetClient, error) {
		return fake, nil
	})

	code, out := executeRoot(t, "run", "host=h", "session=s7", "script=checkout.js", "runners=2")
	require.Equal(t, 0, code, out)

	select {
	case body := <-received:
		assert.Contains(t, body, "Fleet run completed")
		assert.Contains(t, body, "checkout.js")
		assert.Contains(t, body, "DELETED: 2")
	default:
		t.Fatal("no notification was sent")
	}
}
