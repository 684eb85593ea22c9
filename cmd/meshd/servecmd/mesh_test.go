package servecmd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"mini-mesh/config"
	"mini-mesh/eventbus"
	"mini-mesh/mesherr"
	"mini-mesh/server"
)

func startMesh(t *testing.T, cfg *config.MeshConfig) (*mesh, string, context.CancelFunc, <-chan error) {
	m, err := build(cfg, nil)
	Expect(err).NotTo(HaveOccurred())
	t.Cleanup(m.close)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.run(ctx, l)
	}()
	return m, "http://" + l.Addr().String(), cancel, done
}

func routeSelf(base string) string {
	resp, err := http.Post(base+"/mesh/route", "application/json", strings.NewReader(`{"destinationName":"mesh"}`))
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	var route server.RouteResponse
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&route) != nil || route.Primary == nil {
		return ""
	}
	return route.Primary.InstanceID
}

func TestMeshAnnouncesItselfAndDeregistersOnStop(t *testing.T) {
	RegisterTestingT(t)
	cfg := config.NewMeshConfig()
	cfg.HTTPServer.Hostname = "127.0.0.1"
	cfg.HTTPServer.ShutdownTimeout = 2 * time.Second

	m, base, cancel, done := startMesh(t, cfg)
	Eventually(func() string { return routeSelf(base) }, 5*time.Second, 20*time.Millisecond).Should(Equal(m.instanceID))

	cancel()
	Eventually(done, 5*time.Second).Should(Receive(BeNil()))

	_, err := m.registry.Get(context.Background(), m.instanceID)
	Expect(errors.Is(err, mesherr.ErrEndpointNotFound)).To(BeTrue(), "got %v", err)

	_, err = http.Get(base + "/mesh/health")
	Expect(err).To(HaveOccurred(), "listener must be closed after stop")
}

func TestMeshAppliesMappingSnapshots(t *testing.T) {
	RegisterTestingT(t)
	cfg := config.NewMeshConfig()
	cfg.HTTPServer.Hostname = "127.0.0.1"

	m, _, cancel, done := startMesh(t, cfg)
	defer func() {
		cancel()
		<-done
	}()

	// The subscription is attached by run, so keep publishing until it lands.
	Eventually(func() string {
		m.publisher.Publish(eventbus.TopicMappingsSnapshot, eventbus.MappingsSnapshot{
			Version:  1,
			Mappings: map[string]string{"auth": "auth-service"},
		})
		return m.table.Resolve("auth")
	}, 2*time.Second, 20*time.Millisecond).Should(Equal("auth-service"))
	Expect(m.table.Resolve("unknown")).To(Equal("bannou"))
}

func TestMeshProbesWithShardingEnabled(t *testing.T) {
	RegisterTestingT(t)
	cfg := config.NewMeshConfig()
	cfg.HTTPServer.Hostname = "127.0.0.1"
	cfg.Health.HealthCheckEnabled = true
	cfg.Health.MembershipEnabled = true

	m, err := build(cfg, nil)
	Expect(err).NotTo(HaveOccurred())
	defer m.close()
	Expect(m.prober).NotTo(BeNil())
	Expect(m.membership).NotTo(BeNil())
	Expect(m.membership.ID()).To(Equal(m.instanceID))
}

func TestBuildRejectsUnknownCodec(t *testing.T) {
	RegisterTestingT(t)
	cfg := config.NewMeshConfig()
	cfg.Store.Codec = "xml"

	_, err := build(cfg, nil)
	Expect(err).To(HaveOccurred())
}
