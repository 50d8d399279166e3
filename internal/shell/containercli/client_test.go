package containercli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/artpar/boxcompose/internal/core/deployment"
	"github.com/artpar/boxcompose/internal/shell/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listOutput = `ID          IMAGE                              OS     ARCH   STATE    ADDR
shop-db     docker.io/library/postgres:16      linux  arm64  running  192.168.64.3/24
shop-web    docker.io/library/nginx:latest     linux  arm64  stopped
`

type call struct {
	dir  string
	args []string
}

// scriptedRunner answers commands by their first argument(s).
type scriptedRunner struct {
	mu      sync.Mutex
	calls   []call
	stdout  map[string]string
	stderr  map[string]string
	failing map[string]bool
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		stdout:  map[string]string{},
		stderr:  map[string]string{},
		failing: map[string]bool{},
	}
}

func (r *scriptedRunner) run(_ context.Context, dir string, args []string, stdout, stderr io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{dir: dir, args: args})

	key := args[0]
	if len(args) > 1 {
		if _, ok := r.stdout[args[0]+" "+args[1]]; ok {
			key = args[0] + " " + args[1]
		}
		if _, ok := r.failing[args[0]+" "+args[1]]; ok {
			key = args[0] + " " + args[1]
		}
	}
	io.WriteString(stdout, r.stdout[key])
	io.WriteString(stderr, r.stderr[key])
	if r.failing[key] {
		return errors.New("exit status 1")
	}
	return nil
}

func newTestClient(r *scriptedRunner) *Client {
	return NewWithRunner(r.run, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// =============================================================================
// Container Tests
// =============================================================================

func TestFindContainer(t *testing.T) {
	r := newScriptedRunner()
	r.stdout["list"] = listOutput
	c := newTestClient(r)
	ctx := context.Background()

	info, err := c.FindContainer(ctx, "shop-db")
	require.NoError(t, err)
	assert.Equal(t, docker.ContainerStatusRunning, info.Status)
	assert.Equal(t, "192.168.64.3", info.Address)
	assert.Equal(t, "docker.io/library/postgres:16", info.Image)

	status, err := c.Status(ctx, "shop-web")
	require.NoError(t, err)
	assert.Equal(t, docker.ContainerStatusStopped, status)

	addr, err := c.Address(ctx, "shop-web")
	require.NoError(t, err)
	assert.Empty(t, addr)

	_, err = c.FindContainer(ctx, "shop")
	assert.ErrorIs(t, err, docker.ErrContainerNotFound, "prefix matches do not count")

	assert.Equal(t, []string{"list", "--all"}, r.calls[0].args)
}

func TestStopAndRemove(t *testing.T) {
	r := newScriptedRunner()
	r.failing["rm"] = true
	r.stderr["rm"] = "Error: container shop-web not found"
	c := newTestClient(r)

	require.NoError(t, c.StopContainer(context.Background(), "shop-web"))
	err := c.RemoveContainer(context.Background(), "shop-web")
	assert.ErrorIs(t, err, docker.ErrContainerNotFound)

	var rerr *docker.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Error: container shop-web not found", rerr.Message)

	assert.Equal(t, []string{"stop", "shop-web"}, r.calls[0].args)
	assert.Equal(t, []string{"rm", "shop-web"}, r.calls[1].args)
}

func TestCommitContainer(t *testing.T) {
	r := newScriptedRunner()
	c := newTestClient(r)

	ref, err := c.CommitContainer(context.Background(), "shop-web", "shop-web:checkpoint-1")
	require.NoError(t, err)
	assert.Equal(t, "shop-web:checkpoint-1", ref)
	assert.Equal(t, []string{"commit", "shop-web", "shop-web:checkpoint-1"}, r.calls[0].args)
}

func TestLaunch_StreamsLinesInProjectDir(t *testing.T) {
	r := newScriptedRunner()
	r.stdout["run"] = "ready\nlistening"
	r.stderr["run"] = "warning: low memory\n"
	c := newTestClient(r)

	spec := deployment.RunSpec{
		Service: "web",
		Name:    "shop-web",
		Flags:   []deployment.Flag{{Name: deployment.FlagName, Value: "shop-web"}},
		Image:   "nginx:latest",
		Dir:     "/work/shop",
	}

	var lines []docker.LogLine
	require.NoError(t, c.Launch(context.Background(), spec, func(l docker.LogLine) { lines = append(lines, l) }))

	assert.Equal(t, "/work/shop", r.calls[0].dir)
	assert.Equal(t, []string{"run", "--name", "shop-web", "nginx:latest"}, r.calls[0].args)
	assert.ElementsMatch(t, []docker.LogLine{
		{Service: "web", Stream: docker.StreamStdout, Text: "ready"},
		{Service: "web", Stream: docker.StreamStdout, Text: "listening"},
		{Service: "web", Stream: docker.StreamStderr, Text: "warning: low memory"},
	}, lines)
}

func TestLaunch_Failure(t *testing.T) {
	r := newScriptedRunner()
	r.failing["run"] = true
	c := newTestClient(r)

	err := c.Launch(context.Background(), deployment.RunSpec{Service: "web", Name: "shop-web", Image: "x"}, nil)
	var rerr *docker.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Launch", rerr.Op)
}

// =============================================================================
// Network and Volume Tests
// =============================================================================

func TestEnsureNetwork(t *testing.T) {
	r := newScriptedRunner()
	c := newTestClient(r)

	plan := deployment.NetworkPlan{Name: "shop-front", Internal: true}
	require.NoError(t, c.EnsureNetwork(context.Background(), plan))
	assert.Equal(t, []string{"network", "create", "--internal", "shop-front"}, r.calls[0].args)

	require.NoError(t, c.EnsureNetwork(context.Background(), deployment.NetworkPlan{Name: "corp", External: true}))
	assert.Len(t, r.calls, 1, "external networks are not created")
}

func TestEnsureNetwork_AlreadyExists(t *testing.T) {
	r := newScriptedRunner()
	r.failing["network create"] = true
	r.stderr["network create"] = "Error: network shop-front already exists"
	c := newTestClient(r)

	assert.NoError(t, c.EnsureNetwork(context.Background(), deployment.NetworkPlan{Name: "shop-front"}))
}

func TestEnsureVolume(t *testing.T) {
	r := newScriptedRunner()
	c := newTestClient(r)

	require.NoError(t, c.EnsureVolume(context.Background(), deployment.VolumePlan{Name: "shop_data"}))
	assert.Equal(t, []string{"volume", "create", "shop_data"}, r.calls[0].args)
}

// =============================================================================
// Image Tests
// =============================================================================

func TestListImages(t *testing.T) {
	r := newScriptedRunner()
	r.stdout["images list"] = "NAME      TAG     DIGEST\nnginx     latest  3b25b682ea82\nshop-web  checkpoint-1  9f1e\n"
	c := newTestClient(r)

	refs, err := c.ListImages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"nginx:latest", "shop-web:checkpoint-1"}, refs)
	assert.True(t, deployment.HasImage(refs, "nginx"))
}

func TestPullImage(t *testing.T) {
	r := newScriptedRunner()
	c := newTestClient(r)

	require.NoError(t, c.PullImage(context.Background(), "redis:7", docker.PullOptions{Platform: "linux/arm64"}))
	assert.Equal(t, []string{"image", "pull", "--platform", "linux/arm64", "redis:7"}, r.calls[0].args)

	r.failing["image pull"] = true
	r.stderr["image pull"] = "Error: image not found"
	err := c.PullImage(context.Background(), "nope", docker.PullOptions{})
	assert.ErrorIs(t, err, docker.ErrImagePullFailed)
	assert.ErrorIs(t, err, docker.ErrImageNotFound)
}

func TestBuildArgs(t *testing.T) {
	spec := docker.BuildSpec{
		Context:    "/work/shop/app",
		Dockerfile: "Dockerfile.dev",
		Args:       map[string]string{"VERSION": "1.2", "ENV": "dev"},
		Target:     "runtime",
		Platform:   "linux/arm64",
		Tag:        "api:latest",
		NoCache:    true,
	}
	assert.Equal(t, []string{
		"build", "--tag", "api:latest",
		"--file", "/work/shop/app/Dockerfile.dev",
		"--build-arg", "ENV=dev",
		"--build-arg", "VERSION=1.2",
		"--target", "runtime",
		"--platform", "linux/arm64",
		"--no-cache",
		"/work/shop/app",
	}, BuildArgs(spec))

	assert.Equal(t, []string{"build", "--tag", "web:latest", "."}, BuildArgs(docker.BuildSpec{Context: ".", Tag: "web:latest"}))
}

// =============================================================================
// Exec Runner Tests
// =============================================================================

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	run := ExecRunner("sh")

	var stdout, stderr strings.Builder
	err := run(context.Background(), t.TempDir(), []string{"-c", "echo out; echo err >&2"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "out\n", stdout.String())
	assert.Equal(t, "err\n", stderr.String())

	err = run(context.Background(), "", []string{"-c", "exit 3"}, &stdout, &stderr)
	assert.Error(t, err)
}
