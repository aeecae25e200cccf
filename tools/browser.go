package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/bt-bridge/outspeed-realtime/shared"
)

const (
	BrowserTabToolName = "open_browser_tab"

	BrowserTabOpened  = "Browser tab opened"
	BrowserTabBlocked = "Unable to open browser tab. Tell the user to allow popups."
)

// Opener opens a URL in a new browser tab. opened is false when the
// platform refused without an error, the desktop analogue of a blocked popup.
type Opener interface {
	Open(ctx context.Context, rawURL string) (opened bool, err error)
}

type OpenerFunc func(ctx context.Context, rawURL string) (bool, error)

func (f OpenerFunc) Open(ctx context.Context, rawURL string) (bool, error) {
	return f(ctx, rawURL)
}

// SystemOpener hands the URL to the desktop's default browser.
type SystemOpener struct{}

func (SystemOpener) Open(ctx context.Context, rawURL string) (bool, error) {
	var name string
	var args []string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler"}
	default:
		name = "xdg-open"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		// No launcher means no browser to open the tab in.
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	// The launcher is not bound to ctx: the tab has to outlive the call.
	cmd := exec.Command(path, append(args, rawURL)...)
	if err := cmd.Start(); err != nil {
		return false, err
	}
	go func() { _ = cmd.Wait() }()
	return true, nil
}

type browserArgs struct {
	URL string `json:"url"`
}

// BrowserTabTool opens the requested URL through opener.
func BrowserTabTool(opener Opener, logger shared.LoggerAdapter) Tool {
	if opener == nil {
		opener = SystemOpener{}
	}
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	logger = logger.With(zap.String("tool", BrowserTabToolName))
	return Tool{
		Declaration: Declaration{
			Name:        BrowserTabToolName,
			Type:        declarationType,
			Description: "Open a new browser tab",
			Parameters: objectSchema([]string{"url"}, map[string]string{
				"url": "The URL to open",
			}),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) string {
			var args browserArgs
			if err := sonic.Unmarshal(raw, &args); err != nil {
				logger.Error("decoding arguments", err)
				return fmt.Sprintf("decoding arguments: %v", err)
			}
			if err := checkURL(args.URL); err != nil {
				logger.Warn("refusing to open url", zap.String("url", args.URL), zap.Error(err))
				return err.Error()
			}
			logger.Info("opening browser tab", zap.String("url", args.URL))
			opened, err := opener.Open(ctx, args.URL)
			if err != nil {
				logger.Error("opening browser tab", err, zap.String("url", args.URL))
				return err.Error()
			}
			if !opened {
				return BrowserTabBlocked
			}
			return BrowserTabOpened
		},
	}
}

// checkURL only lets web URLs through to the desktop launcher.
func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("invalid url: only http and https are supported")
	}
	if u.Host == "" {
		return errors.New("invalid url: missing host")
	}
	return nil
}
