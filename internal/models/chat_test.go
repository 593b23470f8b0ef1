package models

import "testing"

func TestPairKeyIsUnordered(t *testing.T) {
	if PairKey("s2", "s1") != PairKey("s1", "s2") {
		t.Fatal("pair key must not depend on argument order")
	}
	if PairKey("a:b", "c") == PairKey("a", "b:c") {
		t.Fatal("pair keys collide on separator")
	}
}

func TestChatParticipants(t *testing.T) {
	c := &ChatModel{UserA: "s1", UserB: "s2"}
	if !c.Has("s1") || !c.Has("s2") || c.Has("s3") || c.Has("") {
		t.Fatal("unexpected membership")
	}
	if c.Other("s1") != "s2" || c.Other("s2") != "s1" {
		t.Fatal("unexpected other participant")
	}
}
