package client

import (
	"errors"
	"testing"
)

type stubCluster struct {
	Cluster
	name string
}

func (s *stubCluster) ClusterName() string { return s.name }

func TestMap_Register(t *testing.T) {
	m := NewMap("integ")
	m.Register("c1", false, &stubCluster{name: "c1"})
	m.Register("c1", true, &stubCluster{name: "c1-admin"})

	cl, err := m.Get("c1", false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cl.ClusterName() != "c1" {
		t.Errorf("Expected c1, got %q", cl.ClusterName())
	}

	admin, err := m.Get("c1", true)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if admin.ClusterName() != "c1-admin" {
		t.Errorf("Expected privileged handle to be distinct, got %q", admin.ClusterName())
	}
}

func TestMap_LazyConnectMemoized(t *testing.T) {
	m := NewMap("integ")
	connects := 0
	m.connect = func(conn Connection, fieldManager string) (Cluster, error) {
		connects++
		if fieldManager != "integ" {
			t.Errorf("Expected field manager integ, got %q", fieldManager)
		}
		return &stubCluster{name: conn.Name}, nil
	}
	m.AddConnection(Connection{Name: "c1", Server: "https://api.c1:6443", Token: "t"}, false)

	for i := 0; i < 3; i++ {
		if _, err := m.Get("c1", false); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	if connects != 1 {
		t.Errorf("Expected exactly one connection attempt, got %d", connects)
	}
}

func TestMap_UnknownCluster(t *testing.T) {
	m := NewMap("integ")
	if _, err := m.Get("nope", false); err == nil {
		t.Error("Expected error for unknown cluster")
	}
}

func TestMap_ConnectFailureNotMemoized(t *testing.T) {
	m := NewMap("integ")
	attempts := 0
	m.connect = func(Connection, string) (Cluster, error) {
		attempts++
		return nil, errors.New("connection refused")
	}
	m.AddConnection(Connection{Name: "c1"}, false)

	if _, err := m.Get("c1", false); err == nil {
		t.Fatal("Expected error")
	}
	if _, err := m.Get("c1", false); err == nil {
		t.Fatal("Expected error on retry")
	}
	if attempts != 2 {
		t.Errorf("Expected failed connections to be retried, got %d attempts", attempts)
	}
}
