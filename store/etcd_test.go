package store

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/gomega"
)

const etcdAddr = "127.0.0.1:2379"

// newTestEtcdStore skips the test when no local etcd is listening.
func newTestEtcdStore(t *testing.T) *EtcdStore {
	t.Helper()
	conn, err := net.DialTimeout("tcp", etcdAddr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("etcd not reachable at %s: %v", etcdAddr, err)
	}
	conn.Close()

	s, err := DialEtcd([]string{etcdAddr}, 2*time.Second, "mesh-test-"+uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEtcdStoreKeysAndSets(t *testing.T) {
	s := newTestEtcdStore(t)
	RegisterTestingT(t)
	ctx := context.Background()

	Expect(s.Ping(ctx)).To(Succeed())
	Expect(s.Set(ctx, "endpoint:a", []byte("a"), 5*time.Second)).To(Succeed())
	v, err := s.Get(ctx, "endpoint:a")
	Expect(err).NotTo(HaveOccurred())
	Expect(string(v)).To(Equal("a"))

	Expect(s.Delete(ctx, "endpoint:a")).To(Succeed())
	_, err = s.Get(ctx, "endpoint:a")
	Expect(err).To(MatchError(ErrNotFound))

	Expect(s.AddToSet(ctx, "global-index", "b", 5*time.Second)).To(Succeed())
	Expect(s.AddToSet(ctx, "global-index", "a", 5*time.Second)).To(Succeed())
	Expect(s.AddToSet(ctx, "global-index", "a", 5*time.Second)).To(Succeed())
	members, err := s.Members(ctx, "global-index")
	Expect(err).NotTo(HaveOccurred())
	Expect(members).To(Equal([]string{"a", "b"}))

	Expect(s.RemoveFromSet(ctx, "global-index", "a")).To(Succeed())
	members, _ = s.Members(ctx, "global-index")
	Expect(members).To(Equal([]string{"b"}))
}

func TestEtcdStoreBatchSharesLease(t *testing.T) {
	s := newTestEtcdStore(t)
	RegisterTestingT(t)
	ctx := context.Background()

	Expect(s.Set(ctx, "endpoint:a", []byte("a"), 90*time.Second)).To(Succeed())
	Expect(s.AddToSet(ctx, "destination-index:widgets", "a", 90*time.Second)).To(Succeed())
	Expect(s.AddToSet(ctx, "global-index", "a", 90*time.Second)).To(Succeed())

	leaseOf := func(key string) int64 {
		resp, err := s.Client().Get(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Kvs).To(HaveLen(1))
		return resp.Kvs[0].Lease
	}
	lease := leaseOf(s.kvKey("endpoint:a"))
	Expect(lease).NotTo(BeZero())
	Expect(leaseOf(s.setPrefix("destination-index:widgets") + "a")).To(Equal(lease))
	Expect(leaseOf(s.setPrefix("global-index") + "a")).To(Equal(lease))
}

func TestEtcdStoreExecute(t *testing.T) {
	s := newTestEtcdStore(t)
	RegisterTestingT(t)
	ctx := context.Background()

	Expect(s.Set(ctx, "circuit:widgets", []byte("closed"), 0)).To(Succeed())
	err := s.Execute(ctx, func(tx Txn) error {
		v, err := tx.Get("circuit:widgets")
		if err != nil {
			return err
		}
		Expect(string(v)).To(Equal("closed"))
		tx.Set("circuit:widgets", []byte("open"), 0)
		return nil
	})
	Expect(err).NotTo(HaveOccurred())

	v, _ := s.Get(ctx, "circuit:widgets")
	Expect(string(v)).To(Equal("open"))
}
