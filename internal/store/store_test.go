package store

import (
	"errors"
	"reflect"
	"testing"

	"github.com/dkeye/Pair/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, name, password string) {
	t.Helper()
	u, err := domain.NewUser(name, password)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(u); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, "chiefbiiko", "abc")

	u, err := s.GetUser("chiefbiiko")
	if err != nil {
		t.Fatal(err)
	}
	if u.Password != "abc" || u.Status != domain.DefaultStatus || len(u.Peers) != 0 {
		t.Fatalf("unexpected record: %+v", u)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, "chiefbiiko", "abc")

	u, _ := domain.NewUser("chiefbiiko", "other")
	if err := s.CreateUser(u); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetUser("poop"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddPeersKeepsOrderAndDedups(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, "chiefbiiko", "abc")

	if err := s.AddPeers("chiefbiiko", []string{"noop", "og"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPeers("chiefbiiko", []string{"og", "balou"}); err != nil {
		t.Fatal(err)
	}

	u, err := s.GetUser("chiefbiiko")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"noop", "og", "balou"}
	if !reflect.DeepEqual(u.Peers, want) {
		t.Fatalf("peers = %v, want %v", u.Peers, want)
	}
}

func TestDeletePeers(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, "chiefbiiko", "abc")
	if err := s.AddPeers("chiefbiiko", []string{"noop", "og", "balou"}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeletePeers("chiefbiiko", []string{"og"}); err != nil {
		t.Fatal(err)
	}
	u, err := s.GetUser("chiefbiiko")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"noop", "balou"}
	if !reflect.DeepEqual(u.Peers, want) {
		t.Fatalf("peers = %v, want %v", u.Peers, want)
	}
}

func TestAddPeersUnknownUser(t *testing.T) {
	s := openTestStore(t)
	if err := s.AddPeers("poop", []string{"noop"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, "chiefbiiko", "abc")

	if err := s.SetStatus("chiefbiiko", "busy"); err != nil {
		t.Fatal(err)
	}
	u, err := s.GetUser("chiefbiiko")
	if err != nil {
		t.Fatal(err)
	}
	if u.Status != "busy" {
		t.Fatalf("status = %q, want busy", u.Status)
	}

	if err := s.SetStatus("poop", "busy"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
