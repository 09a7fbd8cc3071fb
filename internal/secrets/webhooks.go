package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zalando/go-keyring"

	"jobwatch-engine/internal/config"
)

const (
	// “Service” groups the engine's secrets in the OS keychain.
	KeyringService = "jobwatch"

	ChannelOfficial = "official"
	ChannelTesting  = "testing"
)

var (
	ErrUnknownChannel = errors.New("unknown webhook channel (want official or testing)")
	ErrInvalidWebhook = errors.New("webhook URL must be an absolute https URL")
)

func WebhookAccount(channel string) string {
	return "jobwatch:webhook:" + channel
}

func GetWebhookURL(channel string) (string, error) {
	if err := checkChannel(channel); err != nil {
		return "", err
	}
	u, err := keyring.Get(KeyringService, WebhookAccount(channel))
	if err != nil {
		return "", fmt.Errorf("keyring get %s webhook: %w", channel, err)
	}
	return strings.TrimSpace(u), nil
}

func SetWebhookURL(channel, raw string) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if raw == "" || err != nil || u.Scheme != "https" || u.Host == "" {
		return ErrInvalidWebhook
	}
	return keyring.Set(KeyringService, WebhookAccount(channel), raw)
}

func DeleteWebhookURL(channel string) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	return keyring.Delete(KeyringService, WebhookAccount(channel))
}

// ResolveWebhooks returns the configured webhook URLs. With notify.use_keyring set, a
// URL missing from config and environment is looked up in the keychain.
func ResolveWebhooks(cfg config.Config) (official, testing string) {
	official = cfg.Notify.OfficialWebhook
	testing = cfg.Notify.TestingWebhook
	if !cfg.Notify.UseKeyring {
		return official, testing
	}
	if official == "" {
		official, _ = GetWebhookURL(ChannelOfficial)
	}
	if testing == "" {
		testing, _ = GetWebhookURL(ChannelTesting)
	}
	return official, testing
}

func checkChannel(channel string) error {
	switch channel {
	case ChannelOfficial, ChannelTesting:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
}
