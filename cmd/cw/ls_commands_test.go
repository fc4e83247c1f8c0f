package main

import (
	"testing"
	"time"
)

func TestListGroups(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.AddGroup("/aws/lambda/orders", 14)
	env.fake.AddGroup("/aws/lambda/billing", 0)
	env.fake.AddGroup("/ecs/web", 0)

	out, _, err := runCLI(t, env, "ls", "groups")
	if err != nil {
		t.Fatalf("ls groups: %v", err)
	}
	if out != "/aws/lambda/billing\n/aws/lambda/orders\n/ecs/web\n" {
		t.Fatalf("output = %q", out)
	}

	out, _, err = runCLI(t, env, "ls", "groups", "lambda", "--long")
	if err != nil {
		t.Fatalf("ls groups --long: %v", err)
	}
	requireContains(t, out, "/aws/lambda/orders")
	requireContains(t, out, "14 days")
	requireContains(t, out, "never expire")
	requireNotContains(t, out, "/ecs/web")
}

func TestListStreamsHidesExpired(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.AddGroup("app", 7)
	now := time.Now()
	env.fake.AddStream("app", "fresh", now.Add(-time.Hour))
	env.fake.AddStream("app", "stale", now.Add(-30*24*time.Hour))

	out, _, err := runCLI(t, env, "ls", "streams", "app")
	if err != nil {
		t.Fatalf("ls streams: %v", err)
	}
	if out != "fresh\n" {
		t.Fatalf("output = %q", out)
	}

	out, _, err = runCLI(t, env, "ls", "streams", "app", "--show-expired", "--long")
	if err != nil {
		t.Fatalf("ls streams --show-expired: %v", err)
	}
	requireContains(t, out, "fresh")
	requireContains(t, out, "stale")
	requireContains(t, out, "2 streams")
}

func TestListStreamsUnknownGroup(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env, "ls", "streams", "nope"); err == nil {
		t.Fatal("expected unknown group to fail")
	}
}
