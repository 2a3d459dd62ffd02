//go:build integration

// Package firestoretest provides a Firestore emulator endpoint for integration tests.
package firestoretest

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

const (
	defaultImage  = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	readyTimeout  = 30 * time.Second
	dockerTimeout = 10 * time.Second
)

// Start returns the host:port of a Firestore emulator. An emulator already named by
// FIRESTORE_EMULATOR_HOST is reused; otherwise one is started in docker and stopped on cleanup.
// The test is skipped when neither is available.
func Start(t *testing.T) string {
	t.Helper()
	if host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST")); host != "" {
		awaitTCP(t, host)
		return host
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	if err := docker(context.Background(), "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	image := strings.TrimSpace(os.Getenv("ENGINE_FIRESTORE_EMULATOR_IMAGE"))
	if image == "" {
		image = defaultImage
	}
	port := reservePort(t)
	out, err := docker(context.Background(), "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		image,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v: %s", err, out)
	}
	container := strings.TrimSpace(string(out))
	if container == "" {
		t.Fatal("docker returned no container id")
	}
	t.Cleanup(func() {
		_ = docker(context.Background(), "stop", container).Run()
	})

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	awaitTCP(t, endpoint)
	return endpoint
}

// docker builds a docker CLI command; output pipes are abandoned dockerTimeout after exit.
func docker(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.WaitDelay = dockerTimeout
	return cmd
}

func reservePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func awaitTCP(t *testing.T, endpoint string) {
	t.Helper()
	deadline := time.Now().Add(readyTimeout)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("firestore emulator at %s not ready: %v", endpoint, err)
		}
		time.Sleep(250 * time.Millisecond)
	}
}
