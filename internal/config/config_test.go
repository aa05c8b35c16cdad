package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const validTexts = `
prompt: You are a helpful assistant.
welcome: Welcome! Please share your contact.
btn_text: Share contact
access_denied: Please register first.
contact_received: Thanks, you can chat now.
admin_chat_id: 123456789
pirate: You speak like a pirate.
`

func writeTexts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot_config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write texts: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	texts, err := Load(writeTexts(t, validTexts))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if texts.ActivePrompt() != "You are a helpful assistant." {
		t.Errorf("unexpected prompt %q", texts.ActivePrompt())
	}
	if texts.Text(KeyButtonText) != "Share contact" {
		t.Errorf("unexpected btn_text %q", texts.Text(KeyButtonText))
	}
	id, ok := texts.AdminChatID()
	if !ok || id != 123456789 {
		t.Errorf("expected admin id 123456789, got %d %v", id, ok)
	}
	if p, ok := texts.PromptByKey("pirate"); !ok || p != "You speak like a pirate." {
		t.Errorf("PromptByKey(pirate) = %q %v", p, ok)
	}
	if _, ok := texts.PromptByKey("nope"); ok {
		t.Error("expected unknown key to fail")
	}
}

func TestLoadMissingKey(t *testing.T) {
	_, err := Load(writeTexts(t, "prompt: x\nwelcome: y\n"))
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsNested(t *testing.T) {
	_, err := Load(writeTexts(t, validTexts+"nested:\n  a: b\n"))
	if err == nil {
		t.Error("expected error for nested value")
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := writeTexts(t, validTexts)
	texts, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("prompt: only\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := texts.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if texts.ActivePrompt() != "You are a helpful assistant." {
		t.Errorf("previous texts not kept, prompt=%q", texts.ActivePrompt())
	}

	updated := `
prompt: New prompt
welcome: w
btn_text: b
access_denied: a
contact_received: c
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := texts.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if texts.ActivePrompt() != "New prompt" {
		t.Errorf("expected new prompt, got %q", texts.ActivePrompt())
	}
	if _, ok := texts.AdminChatID(); ok {
		t.Error("admin id should be gone after reload")
	}
}

func TestFromMap(t *testing.T) {
	_, err := FromMap(map[string]string{KeyPrompt: "p"})
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
	texts, err := FromMap(map[string]string{
		KeyPrompt: "p", KeyWelcome: "w", KeyButtonText: "b", KeyAccessDenied: "a", KeyContactReceived: "c",
		KeyAdminChatID: "not-a-number",
	})
	if err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}
	if _, ok := texts.AdminChatID(); ok {
		t.Error("invalid admin id should be treated as unset")
	}
	if err := texts.Reload(); err == nil {
		t.Error("Reload without a file should fail")
	}
	if got := texts.Keys(); len(got) != 6 || got[0] != KeyAccessDenied {
		t.Errorf("unexpected keys %v", got)
	}
}
