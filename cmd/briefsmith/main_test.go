package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/briefsmith/internal/api"
	"github.com/MikeSquared-Agency/briefsmith/internal/config"
)

func run(t *testing.T, cfg config.Config, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd(cfg)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestPromptCmd(t *testing.T) {
	out, _, err := run(t, config.Config{}, "", "prompt",
		"--name", "Sleep Gummies",
		"--use-case", "help people relax before bed",
		"--aesthetic", "calm and clean",
		"--requirements", "none")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	for _, want := range []string{"Category:    supplement", "Positioning: mid-range", "Sleep Gummies", "None specified.", "<BRIEF>"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPromptCmdRequiresName(t *testing.T) {
	if _, _, err := run(t, config.Config{}, "", "prompt", "--use-case", "x"); err == nil {
		t.Error("expected error without --name")
	}
}

func TestExtractCmd(t *testing.T) {
	reply := "Here you go.\n<BRIEF>{\"product_name\":\"Sleep Gummies\",\"target_price_usd\":\"cheap\"}</BRIEF>"
	out, errOut, err := run(t, config.Config{}, reply, "extract", "-")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(out, `"product_name": "Sleep Gummies"`) {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(errOut, "target_price_usd") {
		t.Errorf("expected mismatch warning, got %q", errOut)
	}

	out, _, err = run(t, config.Config{}, `{"product_name":"Bare"}`, "extract")
	if err != nil {
		t.Fatalf("extract bare: %v", err)
	}
	if !strings.Contains(out, `"product_name": "Bare"`) {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, _, err := run(t, config.Config{}, "<BRIEF>{oops</BRIEF>", "extract"); err == nil {
		t.Error("expected parse error")
	}
}

func TestTokenCmd(t *testing.T) {
	cfg := config.Config{JWTSecret: "dev-secret"}
	out, _, err := run(t, cfg, "", "token", "--user", "alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	auth, _ := api.NewAuthenticator("dev-secret")
	user, err := auth.Verify(strings.TrimSpace(out))
	if err != nil || user != "alice" {
		t.Errorf("minted token did not verify: user=%q err=%v", user, err)
	}

	if _, _, err := run(t, config.Config{}, "", "token", "--user", "alice"); err == nil {
		t.Error("expected error without a secret")
	}
}
