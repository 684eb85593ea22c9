package servecmd

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/gomega"

	"mini-mesh/config"
	"mini-mesh/server"
)

const etcdAddr = "127.0.0.1:2379"

func etcdConfig(t *testing.T, prefix string) *config.MeshConfig {
	conn, err := net.DialTimeout("tcp", etcdAddr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("etcd not reachable at %s: %v", etcdAddr, err)
	}
	conn.Close()

	cfg := config.NewMeshConfig()
	cfg.HTTPServer.Hostname = "127.0.0.1"
	cfg.HTTPServer.ShutdownTimeout = 2 * time.Second
	cfg.Registry.KeyPrefix = prefix
	cfg.Store.Store = "etcd"
	cfg.Store.EventBus = "etcd"
	cfg.Store.EtcdEndpoints = []string{etcdAddr}
	return cfg
}

func meshInstances(base string) []string {
	resp, err := http.Post(base+"/mesh/endpoints/get", "application/json", strings.NewReader(`{"destinationName":"mesh"}`))
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	var list server.GetEndpointsResponse
	if json.NewDecoder(resp.Body).Decode(&list) != nil {
		return nil
	}
	ids := make([]string, 0, len(list.Endpoints))
	for _, ep := range list.Endpoints {
		ids = append(ids, ep.InstanceID)
	}
	return ids
}

// Two meshd instances on one etcd see each other and share circuit state.
func TestMeshInstancesShareEtcd(t *testing.T) {
	prefix := "meshd-test-" + uuid.NewString()
	cfgA := etcdConfig(t, prefix)
	cfgB := etcdConfig(t, prefix)
	RegisterTestingT(t)

	a, baseA, cancelA, doneA := startMesh(t, cfgA)
	b, baseB, cancelB, doneB := startMesh(t, cfgB)

	Eventually(func() []string { return meshInstances(baseA) }, 10*time.Second, 50*time.Millisecond).
		Should(ConsistOf(a.instanceID, b.instanceID))
	Expect(meshInstances(baseB)).To(ConsistOf(a.instanceID, b.instanceID))

	cancelB()
	Eventually(doneB, 5*time.Second).Should(Receive(BeNil()))
	Eventually(func() []string { return meshInstances(baseA) }, 5*time.Second, 50*time.Millisecond).
		Should(ConsistOf(a.instanceID))

	cancelA()
	Eventually(doneA, 5*time.Second).Should(Receive(BeNil()))
}
