package main

import (
	"strings"
	"testing"
)

func TestCheckCmd_Valid(t *testing.T) {
	path := writeConfig(t, `
platform: slack
slack: {app_token: xapp-1, bot_token: xoxb-1}
eden: {gateway_url: https://gw.test, storage_url: https://store.test, bucket: media, max_wait_sec: -1}
bot: {allowed_channels: [C1, C2]}
dashboard: {enabled: true, port: 9000}
`)
	out, err := runCmd(t, "check", "--config", path)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, want := range []string{
		"platform:         slack",
		"storage:          https://store.test/media",
		"max wait:         unbounded",
		"allowed channels: 2",
		"dashboard:        :9000",
		"ok",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckCmd_Invalid(t *testing.T) {
	path := writeConfig(t, "platform: discord\neden: {gateway_url: a, storage_url: b}\n")
	_, err := runCmd(t, "check", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "discord.token is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckCmd_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "check", "--config", "/nonexistent/edenbot.yaml")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("err = %v", err)
	}
}
